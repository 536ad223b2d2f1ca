package service

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
)

type mockLogger struct{}

func (mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockSubscriptionRepo struct {
	subs      map[string]*entity.Subscription
	upsertErr error
}

func newMockSubscriptionRepo() *mockSubscriptionRepo {
	return &mockSubscriptionRepo{subs: make(map[string]*entity.Subscription)}
}

func (m *mockSubscriptionRepo) Upsert(ctx context.Context, sub *entity.Subscription) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	copied := *sub
	m.subs[sub.Key()] = &copied
	return nil
}

func (m *mockSubscriptionRepo) Remove(ctx context.Context, ownerID, channel string) error {
	delete(m.subs, ownerID+"/"+channel)
	return nil
}

func (m *mockSubscriptionRepo) RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) (bool, error) {
	key := ownerID + "/" + channel
	if sub, ok := m.subs[key]; ok && sub.Endpoint == endpoint {
		delete(m.subs, key)
		return true, nil
	}
	return false, nil
}

func (m *mockSubscriptionRepo) Get(ctx context.Context, ownerID, channel string) (*entity.Subscription, error) {
	return m.subs[ownerID+"/"+channel], nil
}

func (m *mockSubscriptionRepo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error) {
	var out []*entity.Subscription
	for _, s := range m.subs {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSubscriptionRepo) ListByRole(ctx context.Context, role string) ([]*entity.Subscription, error) {
	var out []*entity.Subscription
	for _, s := range m.subs {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockUserRepo struct {
	roles map[string][]string
}

func (m *mockUserRepo) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Save(ctx context.Context, user *entity.User) error { return nil }

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return nil, nil
}

func (m *mockUserRepo) AddRole(ctx context.Context, userID, displayName, role string) error {
	for _, r := range m.roles[userID] {
		if r == role {
			return nil
		}
	}
	m.roles[userID] = append(m.roles[userID], role)
	return nil
}

func (m *mockUserRepo) RemoveRole(ctx context.Context, userID, role string) error {
	kept := m.roles[userID][:0]
	for _, r := range m.roles[userID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	m.roles[userID] = kept
	return nil
}

type mockTxManager struct{}

func (mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (SubscriptionService, *mockSubscriptionRepo, *mockUserRepo) {
	subs := newMockSubscriptionRepo()
	users := &mockUserRepo{roles: make(map[string][]string)}
	return NewSubscriptionService(subs, users, mockTxManager{}, mockLogger{}), subs, users
}

func TestRegister_IsIdempotent(t *testing.T) {
	svc, subs, users := newTestService()
	ctx := context.Background()
	req := RegisterRequest{OwnerID: "u1", DisplayName: "Guard", Channel: entity.ChannelTelegram, Endpoint: "1001", Role: "security"}

	for i := 0; i < 3; i++ {
		if _, err := svc.Register(ctx, req); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if len(subs.subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(subs.subs))
	}
	if len(users.roles["u1"]) != 1 {
		t.Errorf("expected role recorded once, got %v", users.roles["u1"])
	}
}

func TestRegister_RotatesTokenInPlace(t *testing.T) {
	svc, subs, _ := newTestService()
	ctx := context.Background()

	req := RegisterRequest{OwnerID: "u1", Channel: entity.ChannelNativePush, Endpoint: "token-1", Role: "ceo"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req.Endpoint = "token-2"
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got := subs.subs["u1/native_push"]
	if got == nil || got.Endpoint != "token-2" {
		t.Errorf("expected rotated token, got %+v", got)
	}
}

func TestRegister_RoleChangeReleasesPreviousRole(t *testing.T) {
	svc, subs, users := newTestService()
	ctx := context.Background()

	req := RegisterRequest{OwnerID: "u1", Channel: entity.ChannelNativePush, Endpoint: "token-1", Role: "ceo"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req.Role = "security"
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got := subs.subs["u1/native_push"].Role; got != "security" {
		t.Errorf("role = %q, want security", got)
	}
	if roles := users.roles["u1"]; len(roles) != 1 || roles[0] != "security" {
		t.Errorf("directory roles = %v, want [security]", roles)
	}
}

func TestRegister_RoleChangeKeepsRoleStillInUse(t *testing.T) {
	svc, _, users := newTestService()
	ctx := context.Background()

	for _, req := range []RegisterRequest{
		{OwnerID: "u1", Channel: entity.ChannelTelegram, Endpoint: "1001", Role: "ceo"},
		{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: "ou_1", Role: "ceo"},
		{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: "ou_1", Role: "finance_manager"},
	} {
		if _, err := svc.Register(ctx, req); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if roles := users.roles["u1"]; len(roles) != 2 {
		t.Errorf("directory roles = %v, want ceo kept for the telegram subscription", roles)
	}
}

func TestUnregister_ReleasesRole(t *testing.T) {
	svc, subs, users := newTestService()
	ctx := context.Background()

	req := RegisterRequest{OwnerID: "u1", Channel: entity.ChannelTelegram, Endpoint: "1001", Role: "warehouse"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Unregister(ctx, "u1", entity.ChannelTelegram); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := svc.Unregister(ctx, "u1", entity.ChannelTelegram); err != nil {
		t.Fatalf("second Unregister() error = %v", err)
	}

	if len(subs.subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs.subs))
	}
	if len(users.roles["u1"]) != 0 {
		t.Errorf("expected role released, got %v", users.roles["u1"])
	}
}

func TestRemoveEndpoint_KeepsReRegisteredSubscription(t *testing.T) {
	svc, subs, users := newTestService()
	ctx := context.Background()

	req := RegisterRequest{OwnerID: "u1", Channel: entity.ChannelNativePush, Endpoint: "token-new", Role: "ceo"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.RemoveEndpoint(ctx, "u1", entity.ChannelNativePush, "token-old"); err != nil {
		t.Fatalf("RemoveEndpoint() error = %v", err)
	}
	if subs.subs["u1/native_push"] == nil {
		t.Fatal("fresh subscription was removed for a stale endpoint")
	}

	if err := svc.RemoveEndpoint(ctx, "u1", entity.ChannelNativePush, "token-new"); err != nil {
		t.Fatalf("RemoveEndpoint() error = %v", err)
	}
	if subs.subs["u1/native_push"] != nil {
		t.Error("expected matching endpoint to be removed")
	}
	if len(users.roles["u1"]) != 0 {
		t.Errorf("expected role released, got %v", users.roles["u1"])
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService()

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing owner", RegisterRequest{Channel: entity.ChannelLark, Endpoint: "ou_1", Role: "ceo"}},
		{"unknown channel", RegisterRequest{OwnerID: "u1", Channel: "sms", Endpoint: "+1", Role: "ceo"}},
		{"missing endpoint", RegisterRequest{OwnerID: "u1", Channel: entity.ChannelLark, Role: "ceo"}},
		{"missing role", RegisterRequest{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: "ou_1"}},
		{"web push without keys", RegisterRequest{OwnerID: "u1", Channel: entity.ChannelWebPush, Endpoint: "https://push/1", Role: "ceo"}},
		{"web push over http", RegisterRequest{OwnerID: "u1", Channel: entity.ChannelWebPush, Endpoint: "http://push/1", P256dh: "k", Auth: "a", Role: "ceo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			if !errors.Is(err, workflow.ErrValidation) {
				t.Errorf("Register() error = %v, want validation error", err)
			}
		})
	}
}

func TestRegister_RepositoryError(t *testing.T) {
	svc, subs, _ := newTestService()
	subs.upsertErr = errors.New("disk full")

	_, err := svc.Register(context.Background(), RegisterRequest{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: "ou_1", Role: "ceo"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestUnregisterAndList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for _, req := range []RegisterRequest{
		{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: "ou_1", Role: "security"},
		{OwnerID: "u2", Channel: entity.ChannelLark, Endpoint: "ou_2", Role: "security"},
		{OwnerID: "u3", Channel: entity.ChannelLark, Endpoint: "ou_3", Role: "ceo"},
	} {
		if _, err := svc.Register(ctx, req); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	subs, err := svc.ListByRole(ctx, "security")
	if err != nil || len(subs) != 2 {
		t.Fatalf("ListByRole() = %d, %v; want 2", len(subs), err)
	}

	if err := svc.Unregister(ctx, "u1", entity.ChannelLark); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := svc.Unregister(ctx, "u1", entity.ChannelLark); err != nil {
		t.Errorf("second Unregister() error = %v, want nil", err)
	}

	subs, _ = svc.ListByRole(ctx, "security")
	if len(subs) != 1 {
		t.Errorf("expected 1 security subscription after unregister, got %d", len(subs))
	}

	if err := svc.Unregister(ctx, "u1", "pager"); !errors.Is(err, workflow.ErrValidation) {
		t.Errorf("Unregister(unknown channel) error = %v", err)
	}
}
