package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the row is not in a state that permits the
	// requested mutation (already claimed, already decided, ...).
	ErrConflict = errors.New("conflict")
	// ErrInsufficientBalance indicates a wallet debit would overdraw.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Repository defines the interface for data persistence. Postgres is the
// production backend; SQLite serves local development and tests.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetExpoPushToken(ctx context.Context, userID, token string) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	EnsurePrimaryConversation(ctx context.Context, userID, routeType string) (*Conversation, error)
	LatestQuickHuman(ctx context.Context, userID, routeType string) (*Conversation, error)
	CreateQuickHuman(ctx context.Context, userID, routeType string, limit int, expiresAt time.Time) (*Conversation, error)
	ResetConversationTier(ctx context.Context, id string) error
	IncrementHumanMessageUsed(ctx context.Context, id string) (int, error)
	AssignConversationAgent(ctx context.Context, conversationID, agentID string, override bool) error
	LinkConversationHandoff(ctx context.Context, conversationID, handoffID string) error
	CancelConversationsForHandoff(ctx context.Context, handoffID string) error
	LatestAgentForHandoff(ctx context.Context, handoffID string) (string, error)
	ListAgentInbox(ctx context.Context, agentID string) ([]Conversation, error)

	// Messages
	InsertMessage(ctx context.Context, conversationID, senderType string, senderID *string, body string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]Message, error)

	// Handoffs
	CreateHandoff(ctx context.Context, nh NewHandoff) (*Handoff, error)
	GetHandoff(ctx context.Context, id string) (*Handoff, error)
	ApplyHandoffTransition(ctx context.Context, id string, upd HandoffStatusUpdate) error
	ListHandoffsForUser(ctx context.Context, userID string) ([]Handoff, error)
	ListHandoffsForAgent(ctx context.Context, agentID string) ([]Handoff, error)

	// Quotes & payments
	CreateQuote(ctx context.Context, nq NewQuote) (*Quote, error)
	GetQuote(ctx context.Context, id string) (*Quote, error)
	CreateQuotePayment(ctx context.Context, np NewQuotePayment) (*QuotePayment, error)
	GetQuotePaymentByRef(ctx context.Context, providerRef string) (*QuotePayment, error)
	CompleteQuotePayment(ctx context.Context, params CompletePaymentParams) (*PaymentCompletion, error)
	CountHandoffPayments(ctx context.Context, quotePaymentID string) (int, error)

	// Wallets
	EnsureWallet(ctx context.Context, ownerType, ownerID, currency string) (*Wallet, error)
	GetWallet(ctx context.Context, ownerType, ownerID string) (*Wallet, error)
	ApplyWalletMovement(ctx context.Context, mv WalletMovement) error
	ListWalletTransactions(ctx context.Context, walletID string, limit int) ([]WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, walletID string) (int64, error)

	// Payout accounts
	UpsertPayoutAccount(ctx context.Context, acct PayoutAccount) (*PayoutAccount, error)
	GetPayoutAccount(ctx context.Context, ownerType, ownerID string) (*PayoutAccount, error)
	SetPayoutAccountVerified(ctx context.Context, id string, verified bool) error

	// Payout requests
	CreateUserPayoutRequest(ctx context.Context, userID, accountID string, amount int64) (*PayoutRequest, error)
	CreateAgentPayoutRequest(ctx context.Context, agentID, accountID string, amount int64) (*PayoutRequest, error)
	GetUserPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	GetAgentPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	DecideAgentPayoutRequest(ctx context.Context, id, status, note string, now time.Time) (*PayoutRequest, error)
	RejectUserPayoutRequest(ctx context.Context, id, note string, now time.Time) (*PayoutRequest, error)
	ListPendingPayoutRequests(ctx context.Context, flow string) ([]PayoutRequest, error)

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, s Settings) error
}
