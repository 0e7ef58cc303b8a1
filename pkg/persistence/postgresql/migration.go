package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Canonical drafts, one row per workflow, with the sequence
			-- number of the last applied operation.
			CREATE TABLE drafts (
				workflow_id VARCHAR(255) PRIMARY KEY,
				document JSONB NOT NULL,
				seq BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version_id VARCHAR(255),
				execution_type VARCHAR(50) NOT NULL CHECK (execution_type IN ('preview', 'production', 'partial')),
				trigger_data JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				metadata JSONB
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);

			CREATE TABLE node_executions (
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id),
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				input_data JSONB,
				output_data JSONB,
				error TEXT,
				queued_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (execution_id, node_id)
			);

			CREATE INDEX idx_node_executions_execution_id ON node_executions(execution_id);
		`,
	}
}
