package repo

import "time"

// User represents a row in linescout_users. Agents and admins are staff
// accounts distinguished by role.
type User struct {
	ID            string
	Email         string
	DisplayName   *string
	Role          string
	PasswordHash  string
	ExpoPushToken *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser carries data for account creation.
type NewUser struct {
	Email        string
	DisplayName  *string
	Role         string
	PasswordHash string
}

// Conversation represents a row in linescout_conversations.
type Conversation struct {
	ID                   string
	UserID               string
	RouteType            string
	ConversationKind     string
	ChatMode             string
	HumanMessageLimit    int
	HumanMessageUsed     int
	HumanAccessExpiresAt *time.Time
	PaymentStatus        string
	ProjectStatus        string
	AssignedAgentID      *string
	HandoffID            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Message is an append-only chat log entry. The numeric id is strictly
// increasing per table and doubles as the pagination cursor.
type Message struct {
	ID             int64
	ConversationID string
	SenderType     string
	SenderID       *string
	Body           string
	CreatedAt      time.Time
}

// Handoff represents a sourcing request in linescout_handoffs.
type Handoff struct {
	ID                  string
	UserID              string
	ConversationID      *string
	RouteType           string
	Status              string
	ClaimedBy           *string
	Shipper             *string
	TrackingNumber      *string
	CancelReason        *string
	ManufacturerFoundAt *time.Time
	PaidAt              *time.Time
	ShippedAt           *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewHandoff carries data for handoff creation.
type NewHandoff struct {
	UserID         string
	ConversationID *string
	RouteType      string
}

// HandoffStatusUpdate is the single-statement mutation applied after a
// transition has been validated. At carries the milestone timestamp.
type HandoffStatusUpdate struct {
	Status         string
	ClaimedBy      *string
	Shipper        *string
	TrackingNumber *string
	CancelReason   *string
	At             time.Time
}

// Quote is a priced offer tied to a handoff.
type Quote struct {
	ID             string
	HandoffID      string
	ConversationID *string
	Amount         int64
	Currency       string
	AgentPercent   float64
	Token          string
	CreatedAt      time.Time
}

// NewQuote carries data for quote creation.
type NewQuote struct {
	HandoffID      string
	ConversationID *string
	Amount         int64
	Currency       string
	AgentPercent   float64
	Token          string
}

// QuotePayment records one attempted payment per provider reference.
type QuotePayment struct {
	ID          string
	QuoteID     string
	HandoffID   *string
	UserID      string
	Purpose     string
	Provider    string
	ProviderRef string
	Amount      int64
	Currency    string
	Status      string
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// NewQuotePayment carries data for payment-intent creation.
type NewQuotePayment struct {
	QuoteID     string
	HandoffID   *string
	UserID      string
	Purpose     string
	Provider    string
	ProviderRef string
	Amount      int64
	Currency    string
}

// HandoffPayment is the ledger row mapping a paid quote payment onto a
// handoff milestone payment.
type HandoffPayment struct {
	ID             string
	HandoffID      *string
	QuotePaymentID string
	Kind           string
	Amount         int64
	CreatedAt      time.Time
}

// CommissionCredit is the precomputed agent commission applied inside the
// payment-completion transaction.
type CommissionCredit struct {
	AgentID       string
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   string
}

// CompletePaymentParams drives the single-transaction payment completion.
type CompletePaymentParams struct {
	ProviderRef string
	// HandoffPaymentKind maps the payment purpose onto the handoff ledger
	// row kind (downpayment, shipping_payment, full_payment).
	HandoffPaymentKind string
	// UpgradeConversationID, when set, flips the linked conversation to
	// paid human support in the same transaction.
	UpgradeConversationID *string
	Commission            *CommissionCredit
	Now                   time.Time
}

// PaymentCompletion reports the outcome of a payment verification.
type PaymentCompletion struct {
	QuotePaymentID string
	QuoteID        string
	HandoffID      *string
	QuoteToken     string
	AlreadyPaid    bool
}

// Wallet holds a running balance in minor currency units.
type Wallet struct {
	ID        string
	OwnerType string
	OwnerID   string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction is an append-only ledger entry. Credits are positive,
// debits negative when summed against the wallet balance.
type WalletTransaction struct {
	ID            string
	WalletID      string
	Type          string
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   string
	CreatedAt     time.Time
}

// WalletMovement describes a single credit or debit applied atomically with
// its matching balance update.
type WalletMovement struct {
	OwnerType     string
	OwnerID       string
	Type          string
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   string
	Currency      string
}

// PayoutAccount is a payout bank account owned by a user or agent.
type PayoutAccount struct {
	ID            string
	OwnerType     string
	OwnerID       string
	BankName      string
	AccountNumber string
	AccountName   string
	Verified      bool
	CreatedAt     time.Time
}

// PayoutRequest is a withdrawal request row (agent or user variant; the two
// live in separate tables with identical shapes).
type PayoutRequest struct {
	ID              string
	OwnerID         string
	PayoutAccountID string
	Amount          int64
	Status          string
	AdminNote       *string
	CreatedAt       time.Time
	DecidedAt       *time.Time
}

// Settings mirrors the single-row linescout_settings table.
type Settings struct {
	AgentPercent      float64
	ServiceFeePercent float64
	Currency          string
	UpdatedAt         time.Time
}
