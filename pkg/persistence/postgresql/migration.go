package postgresql

// Migrations returns the schema migrations keyed by version.
func Migrations() map[int]string {
	return map[int]string{
		1: `
			-- Work templates and their versioned definitions
			CREATE TABLE work_templates (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(100) NOT NULL,
				code VARCHAR(100) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT work_templates_tenant_code_key UNIQUE (tenant_id, code)
			);

			CREATE INDEX idx_work_templates_tenant_status ON work_templates(tenant_id, status);

			CREATE TABLE work_template_versions (
				id VARCHAR(64) PRIMARY KEY,
				template_id VARCHAR(64) NOT NULL REFERENCES work_templates(id) ON DELETE CASCADE,
				tenant_id VARCHAR(100) NOT NULL,
				version VARCHAR(50) NOT NULL,
				notes TEXT NOT NULL DEFAULT '',
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				published_by VARCHAR(255),
				content_snapshot JSONB,
				CONSTRAINT work_template_versions_template_version_key UNIQUE (template_id, version)
			);

			CREATE TABLE work_template_steps (
				id VARCHAR(64) PRIMARY KEY,
				version_id VARCHAR(64) NOT NULL REFERENCES work_template_versions(id) ON DELETE CASCADE,
				step_key VARCHAR(100) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				step_type VARCHAR(20) NOT NULL CHECK (step_type IN ('task', 'approval', 'form', 'external')),
				step_order INT NOT NULL DEFAULT 0,
				depends_on JSONB NOT NULL DEFAULT '[]',
				assignee_rule VARCHAR(255) NOT NULL DEFAULT '',
				sla_hours INT CHECK (sla_hours IS NULL OR sla_hours > 0),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT work_template_steps_version_step_key_key UNIQUE (version_id, step_key)
			);

			CREATE TABLE work_template_fields (
				id VARCHAR(64) PRIMARY KEY,
				step_id VARCHAR(64) NOT NULL REFERENCES work_template_steps(id) ON DELETE CASCADE,
				field_key VARCHAR(100) NOT NULL,
				label VARCHAR(255) NOT NULL,
				field_type VARCHAR(20) NOT NULL CHECK (field_type IN ('string', 'number', 'date', 'datetime', 'enum', 'json')),
				required BOOLEAN NOT NULL DEFAULT false,
				default_value JSONB,
				validation JSONB,
				options JSONB,
				visible_when JSONB,
				position INT NOT NULL DEFAULT 0,
				CONSTRAINT work_template_fields_step_field_key_key UNIQUE (step_id, field_key)
			);

			-- Running instances
			CREATE TABLE work_instances (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(100) NOT NULL,
				project_id VARCHAR(100) NOT NULL,
				template_id VARCHAR(64) NOT NULL,
				version_id VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'cancelled')),
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				cancelled_at TIMESTAMP WITH TIME ZONE,
				cancelled_by VARCHAR(255)
			);

			CREATE INDEX idx_work_instances_tenant_project ON work_instances(tenant_id, project_id);
			CREATE INDEX idx_work_instances_version_id ON work_instances(version_id);

			CREATE TABLE work_instance_steps (
				id VARCHAR(64) PRIMARY KEY,
				instance_id VARCHAR(64) NOT NULL REFERENCES work_instances(id) ON DELETE CASCADE,
				step_key VARCHAR(100) NOT NULL,
				name VARCHAR(255) NOT NULL,
				step_type VARCHAR(20) NOT NULL,
				step_order INT NOT NULL DEFAULT 0,
				depends_on JSONB NOT NULL DEFAULT '[]',
				assignee_rule VARCHAR(255) NOT NULL DEFAULT '',
				assignee VARCHAR(255),
				sla_hours INT,
				snapshot_fields JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'ready', 'in_progress', 'completed', 'blocked', 'skipped')),
				deadline TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				started_by VARCHAR(255),
				completed_at TIMESTAMP WITH TIME ZONE,
				completed_by VARCHAR(255),
				skipped_at TIMESTAMP WITH TIME ZONE,
				skipped_by VARCHAR(255),
				overdue_notified_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT work_instance_steps_instance_step_key_key UNIQUE (instance_id, step_key)
			);

			CREATE INDEX idx_work_instance_steps_overdue ON work_instance_steps(deadline)
				WHERE overdue_notified_at IS NULL AND status NOT IN ('completed', 'skipped');

			CREATE TABLE work_instance_field_values (
				id VARCHAR(64) PRIMARY KEY,
				instance_step_id VARCHAR(64) NOT NULL REFERENCES work_instance_steps(id) ON DELETE CASCADE,
				field_key VARCHAR(100) NOT NULL,
				value_type VARCHAR(20) NOT NULL,
				value_string TEXT,
				value_number DOUBLE PRECISION,
				value_date DATE,
				value_datetime TIMESTAMP WITH TIME ZONE,
				value_json JSONB,
				updated_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT work_instance_field_values_step_field_key_key UNIQUE (instance_step_id, field_key)
			);

			CREATE TABLE approvals (
				seq BIGSERIAL,
				id VARCHAR(64) PRIMARY KEY,
				instance_step_id VARCHAR(64) NOT NULL REFERENCES work_instance_steps(id) ON DELETE CASCADE,
				decision VARCHAR(20) NOT NULL CHECK (decision IN ('pending', 'approved', 'rejected')),
				requested_by VARCHAR(255),
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				approver_id VARCHAR(255),
				decided_at TIMESTAMP WITH TIME ZONE,
				comment TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_approvals_instance_step_id ON approvals(instance_step_id, seq);
			CREATE UNIQUE INDEX approvals_one_pending_idx ON approvals(instance_step_id) WHERE decision = 'pending';

			-- Deliverables
			CREATE TABLE deliverable_templates (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(100) NOT NULL,
				code VARCHAR(100) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				work_template_id VARCHAR(64) REFERENCES work_templates(id) ON DELETE SET NULL,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT deliverable_templates_tenant_code_key UNIQUE (tenant_id, code)
			);

			CREATE TABLE deliverable_template_versions (
				id VARCHAR(64) PRIMARY KEY,
				deliverable_template_id VARCHAR(64) NOT NULL REFERENCES deliverable_templates(id) ON DELETE CASCADE,
				version VARCHAR(50) NOT NULL,
				content BYTEA NOT NULL,
				content_type VARCHAR(255) NOT NULL DEFAULT '',
				checksum VARCHAR(200) NOT NULL,
				size BIGINT NOT NULL,
				document_id VARCHAR(255),
				document_version_id VARCHAR(255),
				published_by VARCHAR(255),
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				integrity_flagged_at TIMESTAMP WITH TIME ZONE,
				CONSTRAINT deliverable_template_versions_deliverable_version_key UNIQUE (deliverable_template_id, version)
			);
		`,
		2: `
			ALTER TABLE work_instance_field_values
				ADD CONSTRAINT work_instance_field_values_one_value_check
				CHECK (num_nonnulls(value_string, value_number, value_date, value_datetime, value_json) <= 1);
		`,
	}
}
