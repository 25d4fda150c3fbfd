package main

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RottenNinja-Go/pipeline"
	"github.com/RottenNinja-Go/pipeline/background"
	"github.com/RottenNinja-Go/pipeline/handler"
	"github.com/RottenNinja-Go/pipeline/logger"
	"github.com/RottenNinja-Go/pipeline/message"
	"github.com/RottenNinja-Go/pipeline/schema"
)

const apiKey = "secret-key"

// User represents a user entity
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       int       `json:"age"`
	Tags      []string  `json:"tags,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type createUserRequest struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Age   int      `json:"age"`
	Tags  []string `json:"tags"`
}

type listUsersRequest struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Tags     []string `json:"tags"`
}

type listUsersResponse struct {
	Users      []User         `json:"users"`
	Pagination map[string]any `json:"pagination"`
}

type userStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[uuid.UUID]User)}
}

func (s *userStore) put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *userStore) get(id uuid.UUID) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *userStore) delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	delete(s.users, id)
	return ok
}

func (s *userStore) list() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type service struct {
	users  *userStore
	events *background.Log
	runner *background.Runner
	kinds  *message.Union
}

func newEventUnion() *message.Union {
	u := message.New("type")
	mustRegister := func(kind string, s *schema.Schema) {
		if err := u.Register(kind, s); err != nil {
			panic(err)
		}
	}
	mustRegister("login", &schema.Schema{
		Properties: map[string]*schema.Schema{
			"user_id": {Type: schema.TypeString, Format: schema.FormatUUID},
			"ip":      {Type: schema.TypeString, Format: schema.FormatIPv4},
		},
		Required: []string{"user_id"},
	})
	mustRegister("purchase", &schema.Schema{
		Properties: map[string]*schema.Schema{
			"user_id": {Type: schema.TypeString, Format: schema.FormatUUID},
			"amount":  {Type: schema.TypeNumber, Constraints: schema.Constraints{ExclusiveMinimum: schema.Float(0)}},
		},
		Required: []string{"user_id", "amount"},
	})
	return u
}

func (s *service) routes(app *pipeline.Framework) error {
	api := app.Group("/api/v1")
	api.AddHooks(pipeline.Hooks{OnResponse: []pipeline.ResponseHook{stampResponse}})

	users := api.Group("/users")
	users.AddHooks(pipeline.Hooks{PreHandler: []pipeline.RequestHook{
		pipeline.RequireAPIKey("X-API-Key", func(_ context.Context, key string) bool { return key == apiKey }),
	}})

	userTags := func(o handler.EndpointOptions) { o.SetTags("Users") }

	steps := []func() error{
		func() error {
			_, err := handler.POST(users, "", handler.JSON(http.StatusCreated, s.createUser), func(o handler.EndpointOptions) {
				userTags(o)
				o.SetSummary("Create User")
				o.Body(&schema.Schema{
					Type: schema.TypeObject,
					Properties: map[string]*schema.Schema{
						"name":  {Type: schema.TypeString, Constraints: schema.Constraints{MinLength: schema.Int(3), MaxLength: schema.Int(50)}},
						"email": {Type: schema.TypeString, Format: schema.FormatEmail},
						"age":   {Type: schema.TypeInteger, Constraints: schema.Constraints{Minimum: schema.Float(18), Maximum: schema.Float(120)}},
						"tags": {Type: schema.TypeArray, Items: &schema.Schema{Type: schema.TypeString},
							Constraints: schema.Constraints{MaxItems: schema.Int(10), UniqueItems: true}},
					},
					Required:             []string{"name", "email", "age"},
					AdditionalProperties: schema.Bool(false),
				})
			})
			return err
		},
		func() error {
			_, err := handler.GET(users, "", handler.JSON(http.StatusOK, s.listUsers), func(o handler.EndpointOptions) {
				userTags(o)
				o.SetSummary("List Users")
				o.Param(schema.FieldSpec{Name: "page", Source: schema.SourceQuery, Type: schema.TypeInteger, Default: 1,
					Constraints: schema.Constraints{Minimum: schema.Float(1)}})
				o.Param(schema.FieldSpec{Name: "page_size", Source: schema.SourceQuery, Type: schema.TypeInteger, Default: 10,
					Constraints: schema.Constraints{Minimum: schema.Float(1), Maximum: schema.Float(50)}})
				o.Param(schema.FieldSpec{Name: "tags", Source: schema.SourceQuery, Type: schema.TypeArray,
					Description: "repeat the key to filter by several tags"})
			})
			return err
		},
		func() error {
			_, err := handler.GET(users, "/{id:uuid}", s.getUser, func(o handler.EndpointOptions) {
				userTags(o)
				o.SetSummary("Get User")
			})
			return err
		},
		func() error {
			_, err := handler.DELETE(users, "/{id:uuid}", s.deleteUser, func(o handler.EndpointOptions) {
				userTags(o)
				o.SetSummary("Delete User")
			})
			return err
		},
		func() error {
			_, err := handler.POST(users, "/{id:uuid}/avatar", s.uploadAvatar, func(o handler.EndpointOptions) {
				userTags(o)
				o.SetSummary("Upload User Avatar")
				o.File("avatar", schema.FileSpec{
					Required:            true,
					ContentType:         []string{"image/png", "image/jpeg"},
					ValidateMagicNumber: true,
					MaxSize:             2 << 20,
				})
			})
			return err
		},
		func() error {
			_, err := handler.POST(api, "/events", s.recordEvent, func(o handler.EndpointOptions) {
				o.SetTags("Events")
				o.SetSummary("Record Event")
				o.Body(s.kinds.Schema())
			})
			return err
		},
		func() error {
			_, err := handler.GET(api, "/events", s.listEvents, func(o handler.EndpointOptions) {
				o.SetTags("Events")
				o.SetSummary("List Recorded Events")
			})
			return err
		},
		func() error {
			_, err := handler.GET(api, "/ticks", s.ticks, func(o handler.EndpointOptions) {
				o.SetTags("Events")
				o.SetSummary("Stream Ticks")
				o.Param(schema.FieldSpec{Name: "count", Source: schema.SourceQuery, Type: schema.TypeInteger, Default: 5,
					Constraints: schema.Constraints{Minimum: schema.Float(1), Maximum: schema.Float(100)}})
			})
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func stampResponse(_ context.Context, _ *pipeline.Request, resp *pipeline.Response) (*pipeline.Response, error) {
	return resp.SetHeader("X-Served-By", "pipeline-example"), nil
}

func (s *service) createUser(ctx context.Context, req createUserRequest) (User, error) {
	u := User{
		ID:        uuid.New(),
		Name:      req.Name,
		Email:     req.Email,
		Age:       req.Age,
		Tags:      req.Tags,
		CreatedAt: time.Now().UTC(),
	}
	s.users.put(u)

	// the welcome mail does not hold up the response
	s.runner.Go(ctx, "welcome-mail", func(ctx context.Context) error {
		s.events.Append("user.welcomed", map[string]any{
			"user_id":    u.ID.String(),
			"request_id": logger.RequestID(ctx),
		})
		return nil
	})
	return u, nil
}

func (s *service) listUsers(_ context.Context, req listUsersRequest) (listUsersResponse, error) {
	all := s.users.list()
	if len(req.Tags) > 0 {
		filtered := all[:0]
		for _, u := range all {
			if hasAny(u.Tags, req.Tags) {
				filtered = append(filtered, u)
			}
		}
		all = filtered
	}

	start := min((req.Page-1)*req.PageSize, len(all))
	end := min(start+req.PageSize, len(all))
	return listUsersResponse{
		Users: all[start:end],
		Pagination: map[string]any{
			"page":        req.Page,
			"page_size":   req.PageSize,
			"total":       len(all),
			"total_pages": (len(all) + req.PageSize - 1) / req.PageSize,
		},
	}, nil
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func userID(r *pipeline.Request) uuid.UUID {
	id, _ := r.Param("id").(uuid.UUID)
	return id
}

func (s *service) getUser(_ context.Context, r *pipeline.Request) (*pipeline.Response, error) {
	u, ok := s.users.get(userID(r))
	if !ok {
		return nil, pipeline.NewProblem(http.StatusNotFound, "user not found")
	}
	return pipeline.JSON(http.StatusOK, u), nil
}

func (s *service) deleteUser(_ context.Context, r *pipeline.Request) (*pipeline.Response, error) {
	if !s.users.delete(userID(r)) {
		return nil, pipeline.NewProblem(http.StatusNotFound, "user not found")
	}
	return nil, nil
}

func (s *service) uploadAvatar(ctx context.Context, r *pipeline.Request) (*pipeline.Response, error) {
	u, ok := s.users.get(userID(r))
	if !ok {
		return nil, pipeline.NewProblem(http.StatusNotFound, "user not found")
	}
	file := r.File("avatar")
	u.Avatar = file.Filename
	s.users.put(u)

	zerolog.Ctx(ctx).Info().Str("filename", file.Filename).Int64("size", file.Size).Msg("avatar stored")
	return pipeline.JSON(http.StatusCreated, map[string]any{
		"message":  "Avatar uploaded successfully",
		"filename": file.Filename,
		"size":     file.Size,
	}), nil
}

func (s *service) recordEvent(ctx context.Context, r *pipeline.Request) (*pipeline.Response, error) {
	m, err := s.kinds.DecodeValue(r.Body())
	if err != nil {
		return nil, err
	}
	pos := s.events.Append(m.Kind, m.Payload)
	zerolog.Ctx(ctx).Debug().Str("kind", m.Kind).Int("position", pos).Msg("event recorded")
	return pipeline.JSON(http.StatusAccepted, map[string]any{"position": pos, "kind": m.Kind}), nil
}

func (s *service) listEvents(context.Context, *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, s.events.Snapshot()), nil
}

// ticks streams count server-sent events, one every 100ms.
func (s *service) ticks(ctx context.Context, r *pipeline.Request) (*pipeline.Response, error) {
	count, _ := r.Param("count").(int64)
	var chunks iter.Seq2[[]byte, error] = func(yield func([]byte, error) bool) {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for i := int64(1); i <= count; i++ {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-t.C:
			}
			if !yield([]byte(fmt.Sprintf("data: %d\n\n", i)), nil) {
				return
			}
		}
	}
	return pipeline.Stream(http.StatusOK, "text/event-stream", chunks), nil
}
