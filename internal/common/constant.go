package common

// EntityContract is the audit ledger entity type for contract documents.
const EntityContract = "contract"
