package postgresql

// migrations returns the ordered schema migrations for the request store.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS requests (
				id TEXT PRIMARY KEY,
				chain_id TEXT NOT NULL,
				chain_version INTEGER NOT NULL DEFAULT 1,
				business_unit_id TEXT NOT NULL,
				initiator_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				current_section_order INTEGER NOT NULL DEFAULT 0,
				data JSONB,
				parent_request_id TEXT,
				root_request_id TEXT NOT NULL,
				section_ledger JSONB NOT NULL DEFAULT '[]'::jsonb,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_requests_root ON requests (root_request_id, current_section_order);
			CREATE INDEX IF NOT EXISTS idx_requests_chain_status ON requests (chain_id, status);
			CREATE INDEX IF NOT EXISTS idx_requests_business_unit ON requests (business_unit_id);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS request_history (
				id TEXT PRIMARY KEY,
				request_id TEXT NOT NULL,
				actor_id TEXT NOT NULL,
				action TEXT NOT NULL,
				section_order INTEGER NOT NULL DEFAULT 0,
				step_number INTEGER NOT NULL DEFAULT 0,
				comment TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history (request_id, created_at);
		`,
	}
}
