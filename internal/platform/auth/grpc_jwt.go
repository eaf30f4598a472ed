package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCPolicy decides which gRPC methods need a token and which roles may
// call them. Methods absent from Roles accept any authenticated actor.
type GRPCPolicy struct {
	Open  []string
	Roles map[string][]string
}

type grpcAuthorizer struct {
	verifier *JWTVerifier
	open     map[string]struct{}
	roles    map[string]map[string]struct{}
}

func newGRPCAuthorizer(verifier *JWTVerifier, p GRPCPolicy) *grpcAuthorizer {
	a := &grpcAuthorizer{
		verifier: verifier,
		open:     make(map[string]struct{}, len(p.Open)),
		roles:    make(map[string]map[string]struct{}, len(p.Roles)),
	}
	for _, m := range p.Open {
		a.open[m] = struct{}{}
	}
	for method, roles := range p.Roles {
		set := make(map[string]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		a.roles[method] = set
	}
	return a
}

// authorize returns ctx carrying the caller's actor, or ctx unchanged for
// open methods.
func (a *grpcAuthorizer) authorize(ctx context.Context, method string) (context.Context, error) {
	if _, ok := a.open[method]; ok {
		return ctx, nil
	}
	actor, err := actorFromMetadata(ctx, a.verifier)
	if err != nil {
		return nil, err
	}
	if set, ok := a.roles[method]; ok {
		if _, ok := set[actor.Role]; !ok {
			return nil, status.Errorf(codes.PermissionDenied, "role %q may not call %s", actor.Role, method)
		}
	}
	return WithActor(ctx, actor), nil
}

func UnaryJWTInterceptor(verifier *JWTVerifier, p GRPCPolicy) grpc.UnaryServerInterceptor {
	a := newGRPCAuthorizer(verifier, p)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamJWTInterceptor applies the same policy to streaming methods such as
// the health Watch call.
func StreamJWTInterceptor(verifier *JWTVerifier, p GRPCPolicy) grpc.StreamServerInterceptor {
	a := newGRPCAuthorizer(verifier, p)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &actorStream{ServerStream: ss, ctx: ctx})
	}
}

type actorStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *actorStream) Context() context.Context { return s.ctx }

func actorFromMetadata(ctx context.Context, verifier *JWTVerifier) (Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Actor{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	raw, ok := bearerToken(md.Get("authorization"))
	if !ok {
		return Actor{}, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	actor, err := verifier.ParseActor(raw)
	if err != nil {
		return Actor{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	return actor, nil
}

func bearerToken(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
