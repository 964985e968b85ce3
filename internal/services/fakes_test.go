package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/config"
	"wallet-backend/internal/models"

	"gorm.io/gorm"
)

// setServiceConfig installs a minimal config for service tests: PIN check
// enforced, one enabled chain per tag with no inter-transfer delay.
func setServiceConfig(t *testing.T, chainNames ...string) {
	t.Helper()
	previous := config.AppConfig
	chainMap := make(map[string]config.ChainConfig, len(chainNames))
	for _, name := range chainNames {
		chainMap[name] = config.ChainConfig{
			Enabled: true,
			Networks: map[string]config.ChainNetworkConfig{
				"mainnet": {RequestTimeoutSec: 5},
			},
		}
	}
	config.AppConfig = &config.Config{Chains: chainMap}
	t.Cleanup(func() { config.AppConfig = previous })
}

// --- repositories ---

type fakePaymentRepo struct {
	mu      sync.Mutex
	intents map[string]*models.PaymentIntent

	// afterGet, when set, runs once after the next GetByID returns; used to
	// interleave a concurrent transition between a read and a write
	afterGet func()
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{intents: make(map[string]*models.PaymentIntent)}
}

func (r *fakePaymentRepo) Create(ctx context.Context, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *intent
	r.intents[intent.ID] = &copied
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	intent, ok := r.intents[id]
	if !ok {
		r.mu.Unlock()
		return nil, gorm.ErrRecordNotFound
	}
	copied := *intent
	hook := r.afterGet
	r.afterGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &copied, nil
}

func (r *fakePaymentRepo) FindPending(ctx context.Context) ([]*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*models.PaymentIntent
	for _, intent := range r.intents {
		if intent.Status == models.PaymentStatusPending {
			copied := *intent
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *fakePaymentRepo) FindByUser(ctx context.Context, userID string) ([]*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*models.PaymentIntent
	for _, intent := range r.intents {
		if intent.UserID == userID {
			copied := *intent
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (r *fakePaymentRepo) MarkCompleted(ctx context.Context, id, txHash string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok || intent.Status != models.PaymentStatusPending {
		return gorm.ErrRecordNotFound
	}
	intent.Status = models.PaymentStatusCompleted
	intent.TxHash = txHash
	intent.CompletedAt = &completedAt
	return nil
}

func (r *fakePaymentRepo) MarkCancelled(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok || intent.Status != models.PaymentStatusPending {
		return gorm.ErrRecordNotFound
	}
	intent.Status = models.PaymentStatusCancelled
	return nil
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry // keyed by tx hash
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{entries: make(map[string]*models.LedgerEntry)}
}

func (r *fakeLedgerRepo) CreateIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.TxHash]; exists {
		return false, nil
	}
	copied := *entry
	r.entries[entry.TxHash] = &copied
	return true, nil
}

func (r *fakeLedgerRepo) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[txHash]
	return exists, nil
}

func (r *fakeLedgerRepo) FindByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*models.LedgerEntry
	for _, entry := range r.entries {
		if entry.UserID == userID {
			copied := *entry
			found = append(found, &copied)
		}
	}
	return found, nil
}

type fakeSplitRepo struct {
	mu         sync.Mutex
	templates  map[string]*models.SplitTemplate
	recipients map[string][]models.SplitRecipient // keyed by template ID
	executions map[string]*models.SplitExecution
	bumped     map[string]int
}

func newFakeSplitRepo() *fakeSplitRepo {
	return &fakeSplitRepo{
		templates:  make(map[string]*models.SplitTemplate),
		recipients: make(map[string][]models.SplitRecipient),
		executions: make(map[string]*models.SplitExecution),
		bumped:     make(map[string]int),
	}
}

func (r *fakeSplitRepo) CreateTemplate(ctx context.Context, template *models.SplitTemplate, recipients []models.SplitRecipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *template
	r.templates[template.ID] = &copied
	r.recipients[template.ID] = append([]models.SplitRecipient(nil), recipients...)
	return nil
}

func (r *fakeSplitRepo) GetTemplate(ctx context.Context, id string) (*models.SplitTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	template, ok := r.templates[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *template
	copied.Recipients = append([]models.SplitRecipient(nil), r.recipients[id]...)
	return &copied, nil
}

func (r *fakeSplitRepo) FindTemplatesByUser(ctx context.Context, userID string) ([]*models.SplitTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*models.SplitTemplate
	for _, template := range r.templates {
		if template.UserID == userID {
			copied := *template
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (r *fakeSplitRepo) SetTemplateStatus(ctx context.Context, id string, status models.SplitStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	template, ok := r.templates[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	template.Status = status
	return nil
}

func (r *fakeSplitRepo) SetRecipientActive(ctx context.Context, recipientID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for templateID, recipients := range r.recipients {
		for i := range recipients {
			if recipients[i].ID == recipientID {
				recipients[i].IsActive = active
				r.recipients[templateID] = recipients
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeSplitRepo) ActiveRecipients(ctx context.Context, templateID string) ([]models.SplitRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []models.SplitRecipient
	for _, recipient := range r.recipients[templateID] {
		if recipient.IsActive {
			active = append(active, recipient)
		}
	}
	return active, nil
}

func (r *fakeSplitRepo) CreateExecution(ctx context.Context, execution *models.SplitExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *execution
	r.executions[execution.ID] = &copied
	return nil
}

func (r *fakeSplitRepo) FinalizeExecution(ctx context.Context, execution *models.SplitExecution, results []models.SplitExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *execution
	copied.Results = append([]models.SplitExecutionResult(nil), results...)
	r.executions[execution.ID] = &copied
	return nil
}

func (r *fakeSplitRepo) GetExecution(ctx context.Context, id string) (*models.SplitExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution, ok := r.executions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *execution
	return &copied, nil
}

func (r *fakeSplitRepo) FindExecutions(ctx context.Context, templateID string) ([]*models.SplitExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*models.SplitExecution
	for _, execution := range r.executions {
		if execution.SplitPaymentID == templateID {
			copied := *execution
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (r *fakeSplitRepo) BumpExecutionCounters(ctx context.Context, templateID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumped[templateID]++
	return nil
}

func (r *fakeSplitRepo) executionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions)
}

type fakeUserRepo struct {
	users map[string]*models.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

// --- chain adapter ---

// fakeAdapter a scriptable chains.Adapter that records every call
type fakeAdapter struct {
	chain models.Chain

	mu            sync.Mutex
	findCalls     int
	transferCalls []string // recipient addresses in dispatch order

	confirmation chains.Confirmation
	findErr      error
	balance      *big.Int
	fee          *big.Int
	transferFn   func(toAddress string, amount *big.Int) (string, error)
}

func newFakeAdapter(chain models.Chain) *fakeAdapter {
	return &fakeAdapter{
		chain:   chain,
		balance: big.NewInt(0),
		fee:     big.NewInt(0),
		transferFn: func(toAddress string, amount *big.Int) (string, error) {
			return "tx-" + toAddress, nil
		},
	}
}

func (a *fakeAdapter) Chain() models.Chain { return a.chain }

func (a *fakeAdapter) ValidateAddress(address string) bool { return address != "" }

func (a *fakeAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (chains.Confirmation, error) {
	a.mu.Lock()
	a.findCalls++
	a.mu.Unlock()
	if a.findErr != nil {
		return chains.Confirmation{}, a.findErr
	}
	return a.confirmation, nil
}

func (a *fakeAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	a.mu.Lock()
	a.transferCalls = append(a.transferCalls, toAddress)
	a.mu.Unlock()
	return a.transferFn(toAddress, amount)
}

func (a *fakeAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	return new(big.Int).Set(a.balance), nil
}

func (a *fakeAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	return new(big.Int).Set(a.fee), nil
}

func (a *fakeAdapter) findCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.findCalls
}

func (a *fakeAdapter) transfers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.transferCalls...)
}

// fakeBatchAdapter adds the UTXO batch path
type fakeBatchAdapter struct {
	*fakeAdapter
	batchFn func(recipients []chains.Recipient) (string, error)
}

func (a *fakeBatchAdapter) ExecuteBatchTransfer(ctx context.Context, privateKey string, recipients []chains.Recipient, network models.Network) (string, error) {
	return a.batchFn(recipients)
}

// --- collaborators ---

type publishedEvent struct {
	userID string
	kind   string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (n *fakeNotifier) Publish(userID, notificationType string, data interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, publishedEvent{userID: userID, kind: notificationType})
	return nil
}

func (n *fakeNotifier) published() []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]publishedEvent(nil), n.events...)
}

type fakeSigner struct {
	calls int
	err   error
}

func (s *fakeSigner) DecryptKey(ctx context.Context, userID, chain, network, address string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("key-%s-%s", chain, address), nil
}
