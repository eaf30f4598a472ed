package auth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	healthCheck = "/grpc.health.v1.Health/Check"
	adminMethod = "/ledger.v1.Admin/ListAudit"
	anyMethod   = "/ledger.v1.Ledger/Any"
)

func testPolicy() GRPCPolicy {
	return GRPCPolicy{
		Open:  []string{healthCheck},
		Roles: map[string][]string{adminMethod: {RoleAdmin}},
	}
}

func bearerContext(t *testing.T, signer *JWTSigner, actor Actor) context.Context {
	t.Helper()
	tok, _, err := signer.SignActor(actor, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
}

func TestUnaryJWTInterceptor(t *testing.T) {
	keyset, _ := ParseHMACKeyset("secret", "", "")
	signer := NewJWTSignerWithKeyset(keyset)
	icpt := UnaryJWTInterceptor(NewJWTVerifierWithKeyset(keyset), testPolicy())

	var seen Actor
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = ActorFromContext(ctx)
		return "ok", nil
	}

	if _, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: healthCheck}, handler); err != nil {
		t.Fatalf("health check should be allowed: %v", err)
	}

	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: anyMethod}, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	teller := bearerContext(t, signer, Actor{ID: "teller-1", Role: RoleTeller})
	if _, err := icpt(teller, nil, &grpc.UnaryServerInfo{FullMethod: anyMethod}, handler); err != nil {
		t.Fatalf("authenticated call: %v", err)
	}
	if seen.ID != "teller-1" || seen.Role != RoleTeller {
		t.Fatalf("actor not propagated: %+v", seen)
	}
	_, err = icpt(teller, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, handler)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("teller on admin method: expected PermissionDenied, got %v", err)
	}

	admin := bearerContext(t, signer, Actor{ID: "admin-1", Role: RoleAdmin})
	if _, err := icpt(admin, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, handler); err != nil {
		t.Fatalf("admin call: %v", err)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamJWTInterceptor(t *testing.T) {
	keyset, _ := ParseHMACKeyset("secret", "", "")
	signer := NewJWTSignerWithKeyset(keyset)
	icpt := StreamJWTInterceptor(NewJWTVerifierWithKeyset(keyset), testPolicy())

	var seen Actor
	handler := func(_ any, ss grpc.ServerStream) error {
		seen, _ = ActorFromContext(ss.Context())
		return nil
	}
	info := &grpc.StreamServerInfo{FullMethod: anyMethod, IsServerStream: true}

	err := icpt(nil, fakeStream{ctx: context.Background()}, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	ctx := bearerContext(t, signer, Actor{ID: "cust-1", Role: RoleCustomer})
	if err := icpt(nil, fakeStream{ctx: ctx}, info, handler); err != nil {
		t.Fatalf("authenticated stream: %v", err)
	}
	if seen.ID != "cust-1" {
		t.Fatalf("stream context should carry the actor, got %+v", seen)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   []string
		want string
		ok   bool
	}{
		{nil, "", false},
		{[]string{"Bearer abc"}, "abc", true},
		{[]string{"bearer  abc "}, "abc", true},
		{[]string{"Basic abc"}, "", false},
		{[]string{"Bearer "}, "", false},
	}
	for _, tc := range cases {
		got, ok := bearerToken(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
