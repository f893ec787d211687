package gearbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// RestResponse wraps every status API response.
type RestResponse struct {
	Ok    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// GuildStatus is the cached view of one guild.
type GuildStatus struct {
	Guild         *CachedGuild        `json:"guild"`
	Complete      bool                `json:"complete"`
	Missing       int64               `json:"missing"`
	Roles         []*CachedRole       `json:"roles"`
	ChannelIDs    []discord.Snowflake `json:"channel_ids"`
	CachedMembers int                 `json:"cached_members"`
}

// StatusServer serves cluster stats, cached guilds and prometheus metrics.
type StatusServer struct {
	logger  *slog.Logger
	cluster *Cluster

	server *fasthttp.Server
}

func NewStatusServer(logger *slog.Logger, cluster *Cluster) *StatusServer {
	s := &StatusServer{
		logger:  logger.With("component", "status_http"),
		cluster: cluster,
	}

	r := router.New()
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/guilds/{id}", s.handleGuild)
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	s.server = &fasthttp.Server{
		Name:    "Gearbox " + Version,
		Handler: s.logRequests(r.Handler),
	}

	return s
}

func (s *StatusServer) Handler() fasthttp.RequestHandler {
	return s.server.Handler
}

func (s *StatusServer) ListenAndServe(address string) error {
	s.logger.Info("Running HTTP server", "address", address)

	err := s.server.ListenAndServe(address)
	if err != nil {
		return fmt.Errorf("failed to serve status http: %w", err)
	}

	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

func (s *StatusServer) logRequests(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		next(ctx)

		s.logger.Debug("Handled request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode(),
			"duration", time.Since(start),
		)
	}
}

func (s *StatusServer) handleStatus(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, RestResponse{Ok: true, Data: s.cluster.Stats()})
}

func (s *StatusServer) handleGuild(ctx *fasthttp.RequestCtx) {
	rawID, _ := ctx.UserValue("id").(string)

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, RestResponse{Error: "invalid guild id"})

		return
	}

	guildID := discord.Snowflake(id)

	guild, ok := s.cluster.GetGuild(guildID)
	if !ok {
		writeJSON(ctx, fasthttp.StatusNotFound, RestResponse{Error: "guild not found"})

		return
	}

	roles, _ := s.cluster.GetRoles(guildID)

	writeJSON(ctx, fasthttp.StatusOK, RestResponse{Ok: true, Data: GuildStatus{
		Guild:         guild,
		Complete:      s.cluster.IsGuildComplete(guildID),
		Missing:       s.cluster.tracker.Missing(guildID),
		Roles:         roles,
		ChannelIDs:    s.cluster.cache.ChannelIDs(guildID),
		CachedMembers: s.cluster.cache.MemberCount(guildID),
	}})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, response RestResponse) {
	ctx.SetContentType("application/json;charset=UTF-8")
	ctx.SetStatusCode(status)

	err := gearboxjson.MarshalToWriter(ctx, response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}
