package store

// Account is one persisted linked-account row. The row is durable; the live
// session built from it is ephemeral.
type Account struct {
	ID                string `json:"id"`
	AccountType       string `json:"accountType"`
	OwnerCode         string `json:"ownerCode"`
	CustomName        string `json:"customName"`
	AccountIdentifier string `json:"accountIdentifier"`
}

// Invite is one invitation code. Accounts created with it carry it as their
// owner code.
type Invite struct {
	Code string `json:"code"`
	Note string `json:"note"`
}
