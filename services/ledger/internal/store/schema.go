package store

// immutabilityDDL makes ledger_entries append-only at the storage
// layer: a BEFORE UPDATE OR DELETE trigger raises rather than letting
// any caller (including a future bug) rewrite a posted entry. Mirrors
// the trigger/function pair from the original schema migration that
// introduced ledger immutability.
const immutabilityDDL = `
CREATE OR REPLACE FUNCTION prevent_ledger_entry_mutation()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
	RAISE EXCEPTION 'ledger_entries is append-only; % is not allowed', TG_OP;
END;
$$;

DROP TRIGGER IF EXISTS trg_ledger_entries_immutable ON ledger_entries;

CREATE TRIGGER trg_ledger_entries_immutable
BEFORE UPDATE OR DELETE ON ledger_entries
FOR EACH ROW
EXECUTE FUNCTION prevent_ledger_entry_mutation();
`
