package api

import (
	"context"
	"sync"

	"google.golang.org/grpc"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/specs"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mimic.v1.TrainingService"

// Service implements the training service RPCs over the shared datastore.
type Service struct {
	store      *datastore.Store
	cache      *datastore.Cache
	fs         *filestore.Store
	hparamSets []models.Hyperparameters
	metrics    *telemetry.Metrics

	mu        sync.Mutex
	specTrees map[string]*specs.Tree
}

// NewService creates the RPC service. hparamSets are the hyperparameter
// sets new INTERACTIVE_TRAINING sessions get assignments for; when empty a
// single default assignment is created.
func NewService(store *datastore.Store, hparamSets []models.Hyperparameters,
	metrics *telemetry.Metrics) *Service {
	if len(hparamSets) == 0 {
		hparamSets = []models.Hyperparameters{models.DefaultHyperparameters()}
	}
	return &Service{
		store:      store,
		cache:      datastore.NewCache(store),
		fs:         store.FileStore(),
		hparamSets: hparamSets,
		metrics:    metrics,
		specTrees:  make(map[string]*specs.Tree),
	}
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// specTree returns the parsed spec tree for a brain, memoized: the spec is
// immutable and submission validates every step against it.
func (s *Service) specTree(project, brain string) (*specs.Tree, error) {
	key := project + "/" + brain
	s.mu.Lock()
	tree, ok := s.specTrees[key]
	s.mu.Unlock()
	if ok {
		return tree, nil
	}
	spec, err := s.cache.GetBrainSpec(project, brain)
	if err != nil {
		return nil, err
	}
	tree, err = specs.FromSpec(spec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if len(s.specTrees) >= 512 {
		s.specTrees = make(map[string]*specs.Tree)
	}
	s.specTrees[key] = tree
	s.mu.Unlock()
	return tree, nil
}

// handler adapts a typed service method into a grpc.MethodDesc, decoding
// the request with the registered codec and mapping errors onto status
// codes.
func handler[Req, Resp any](name string,
	invoke func(s *Service, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error,
			interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(*Service)
			call := func(ctx context.Context, req any) (any, error) {
				resp, err := invoke(svc, ctx, req.(*Req))
				if err != nil {
					return nil, rpcError(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}, call)
		},
	}
}

// TrainingServer is the RPC surface; *Service is its only implementation.
// grpc's registration check requires the handler type to be an interface.
type TrainingServer interface {
	CreateBrain(context.Context, *CreateBrainRequest) (*Brain, error)
	GetBrain(context.Context, *GetBrainRequest) (*Brain, error)
	ListBrains(context.Context, *ListBrainsRequest) (*ListBrainsResponse, error)
	CreateSession(context.Context, *CreateSessionRequest) (*Session, error)
	GetSession(context.Context, *GetSessionRequest) (*Session, error)
	GetSessionByIndex(context.Context, *GetSessionByIndexRequest) (*Session, error)
	GetSessionCount(context.Context, *GetSessionCountRequest) (*GetSessionCountResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	StopSession(context.Context, *StopSessionRequest) (*StopSessionResponse, error)
	ListEpisodeChunks(context.Context, *ListEpisodeChunksRequest) (*ListEpisodeChunksResponse, error)
	SubmitEpisodeChunks(context.Context, *SubmitEpisodeChunksRequest) (*SubmitEpisodeChunksResponse, error)
	GetModel(context.Context, *GetModelRequest) (*GetModelResponse, error)
}

var _ TrainingServer = (*Service)(nil)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrainingServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("CreateBrain", (*Service).CreateBrain),
		handler("GetBrain", (*Service).GetBrain),
		handler("ListBrains", (*Service).ListBrains),
		handler("CreateSession", (*Service).CreateSession),
		handler("GetSession", (*Service).GetSession),
		handler("GetSessionByIndex", (*Service).GetSessionByIndex),
		handler("GetSessionCount", (*Service).GetSessionCount),
		handler("ListSessions", (*Service).ListSessions),
		handler("StopSession", (*Service).StopSession),
		handler("ListEpisodeChunks", (*Service).ListEpisodeChunks),
		handler("SubmitEpisodeChunks", (*Service).SubmitEpisodeChunks),
		handler("GetModel", (*Service).GetModel),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/api/service.go",
}
