package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"animehub/internal/auth"
	"animehub/internal/logging"
	"animehub/internal/pending"
	"animehub/internal/syncer"
	"animehub/internal/titles"
	"animehub/pkg/models"
)

type SyncRequest struct {
	ContentType string `json:"contentType"`
	MaxPages    int    `json:"maxPages,omitempty"`
	StartPage   int    `json:"startPage,omitempty"`
	StartFromID *int64 `json:"startFromId,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
}

type SyncResponse struct {
	Success bool           `json:"success"`
	Result  *syncer.Result `json:"result"`
	Error   string         `json:"error,omitempty"`
}

type ReconcileRequest struct {
	ContentType string `json:"contentType"`
	Provider    string `json:"provider,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	DaysBack    int    `json:"daysBack,omitempty"`
}

type ReconcileResponse struct {
	Success bool                    `json:"success"`
	Result  *syncer.ReconcileResult `json:"result"`
	Error   string                  `json:"error,omitempty"`
}

type ResolveRequest struct {
	MatchID       string  `json:"matchId"`
	Decision      string  `json:"decision"`
	TargetTitleID *string `json:"targetTitleId,omitempty"`
}

type ResolveResponse struct {
	Match *models.PendingMatch `json:"match"`
}

// SyncService is the RPC twin of the admin HTTP triggers.
type SyncService interface {
	RunSync(context.Context, *SyncRequest) (*SyncResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
	ResolveMatch(context.Context, *ResolveRequest) (*ResolveResponse, error)
}

type Server struct {
	Importer    *syncer.Importer
	Reconcilers map[models.Provider]*syncer.Reconciler
	Pending     *pending.Repo
}

func NewServer(im *syncer.Importer, reconcilers map[models.Provider]*syncer.Reconciler, queue *pending.Repo) *Server {
	return &Server{Importer: im, Reconcilers: reconcilers, Pending: queue}
}

func (s *Server) RunSync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	ct, err := models.ParseContentType(req.ContentType)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	mode, err := syncer.ParseMode(req.Mode)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.Importer.Run(ctx, syncer.Request{
		ContentType: ct,
		Mode:        mode,
		MaxPages:    req.MaxPages,
		StartPage:   req.StartPage,
		StartFromID: req.StartFromID,
		Resume:      req.Resume,
	})
	if res == nil {
		return nil, runError(err)
	}
	resp := &SyncResponse{Success: err == nil, Result: res}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (s *Server) Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	ct, err := models.ParseContentType(req.ContentType)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p := models.ProviderKitsu
	if strings.TrimSpace(req.Provider) != "" {
		if p, err = models.ParseProvider(req.Provider); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	rc, ok := s.Reconcilers[p]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "no reconciler for provider %s", p)
	}

	res, err := rc.Run(ctx, syncer.ReconcileRequest{ContentType: ct, Limit: req.Limit, DaysBack: req.DaysBack})
	if res == nil {
		return nil, runError(err)
	}
	resp := &ReconcileResponse{Success: err == nil, Result: res}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (s *Server) ResolveMatch(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	if req == nil || strings.TrimSpace(req.MatchID) == "" {
		return nil, status.Error(codes.InvalidArgument, "matchId required")
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decidedBy := ""
	if claims := ClaimsFrom(ctx); claims != nil {
		decidedBy = claims.Username
	}
	m, err := s.Pending.Resolve(ctx, strings.TrimSpace(req.MatchID), decision, req.TargetTitleID, decidedBy)
	if err != nil {
		return nil, resolveError(err)
	}
	logging.Info().Str("pending_id", m.ID).Str("decision", string(decision)).Msg("[grpc] match resolved")
	return &ResolveResponse{Match: m}, nil
}

func runError(err error) error {
	switch {
	case errors.Is(err, syncer.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	logging.Error().Err(err).Msg("[grpc] run aborted")
	return status.Error(codes.Internal, "run failed")
}

func resolveError(err error) error {
	switch {
	case errors.Is(err, pending.ErrNotFound), errors.Is(err, titles.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, pending.ErrAlreadyResolved), errors.Is(err, titles.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, pending.ErrTargetRequired), errors.Is(err, pending.ErrInvalidDecision):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	logging.Error().Err(err).Msg("[grpc] resolve failed")
	return status.Error(codes.Internal, "resolve failed")
}

type claimsKey struct{}

// ClaimsFrom returns the admin claims AuthInterceptor attached, or nil.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// AuthInterceptor requires the same admin bearer token as the HTTP API,
// passed as "authorization" metadata.
func AuthInterceptor(tokens auth.TokenService, repo *auth.Repo) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}
		claims, err := auth.Authenticate(ctx, tokens, repo, header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

// Register attaches srv to g under animehub.SyncService.
func Register(g grpc.ServiceRegistrar, srv SyncService) {
	g.RegisterService(&ServiceDesc, srv)
}

const serviceName = "animehub.SyncService"

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SyncService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunSync", Handler: runSyncHandler},
		{MethodName: "Reconcile", Handler: reconcileHandler},
		{MethodName: "ResolveMatch", Handler: resolveMatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "animehub/sync",
}

func runSyncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncService).RunSync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RunSync"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SyncService).RunSync(ctx, req.(*SyncRequest))
	})
}

func reconcileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReconcileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncService).Reconcile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Reconcile"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SyncService).Reconcile(ctx, req.(*ReconcileRequest))
	})
}

func resolveMatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResolveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncService).ResolveMatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ResolveMatch"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SyncService).ResolveMatch(ctx, req.(*ResolveRequest))
	})
}
