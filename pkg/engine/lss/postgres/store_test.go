package postgres

import (
	"github.com/epikweb/singlewriter/pkg/engine/lss"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	BeforeEach(func() {
		truncateLog(ctx, pool)
		Expect(store.seedBootstrap(ctx)).To(Succeed())
	})

	It("seeds the bootstrap record on an empty log", func() {
		first, err := store.LogicalReadFirst(ctx, lss.SystemPartition)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.OrderID).To(Equal(int64(0)))
		Expect(first.Type).To(Equal(lss.InitializedEventType))
	})

	It("assigns consecutive order ids across a batch", func() {
		events, err := store.PhysicalAppend(ctx, []lss.InputEvent{
			{PartitionID: "sub-1", Type: "Subscription.Created", Data: []byte(`{"plan":"pro"}`)},
			{PartitionID: "sub-1", Type: "Subscription.Activated", Data: []byte(`{}`)},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[1].OrderID).To(Equal(events[0].OrderID + 1))
	})

	It("stamps a shared appendTime across every event in one batch", func() {
		events, err := store.PhysicalAppend(ctx, []lss.InputEvent{
			{PartitionID: "sub-2", Type: "Subscription.Created"},
			{PartitionID: "sub-2", Type: "Subscription.Activated"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(events[0].Metadata).To(MatchJSON(events[1].Metadata))
	})

	It("rejects an empty batch", func() {
		_, err := store.PhysicalAppend(ctx, nil)
		Expect(lss.IsValidationError(err)).To(BeTrue())
	})

	It("reports EmptyPartitionError for a partition that was never written", func() {
		_, err := store.LogicalReadFirst(ctx, "never-seen")
		Expect(lss.IsEmptyPartitionError(err)).To(BeTrue())
	})

	It("streams the full log in order_id order via PhysicalRead", func() {
		_, err := store.PhysicalAppend(ctx, []lss.InputEvent{
			{PartitionID: "sub-3", Type: "Subscription.Created"},
		})
		Expect(err).NotTo(HaveOccurred())

		it, err := store.PhysicalRead(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer it.Close()

		var lastOrderID int64 = -1
		count := 0
		for {
			e, ok, err := it.Next(ctx)
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				break
			}
			Expect(e.OrderID).To(BeNumerically(">", lastOrderID))
			lastOrderID = e.OrderID
			count++
		}
		Expect(count).To(BeNumerically(">=", 2))
	})
})
