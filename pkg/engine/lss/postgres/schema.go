package postgres

// schemaSQL creates the single append-only log table. order_id is
// populated from a sequence rather than a SERIAL column so the writer
// can reserve a contiguous block for a multi-event batch in one round
// trip (see Store.PhysicalAppend).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS lss_log (
	order_id     bigint PRIMARY KEY,
	partition_id varchar(255) NOT NULL,
	type         varchar(255) NOT NULL,
	data         jsonb NOT NULL DEFAULT '{}',
	metadata     jsonb NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS lss_log_partition_order_idx
	ON lss_log (partition_id, order_id);

CREATE SEQUENCE IF NOT EXISTS lss_log_order_id_seq;
`
