package ensagent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/everFinance/ensagent/common"
	"github.com/everFinance/ensagent/config"
	"github.com/everFinance/ensagent/schema"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
)

func (a *Agent) runAPI(port string) error {
	r := a.engine
	r.Use(gin.Recovery(), common.CORSMiddleware())
	limiter, err := common.LimiterMiddleware(a.config.RateLimit, nil)
	if err != nil {
		return fmt.Errorf("rate limit %q: %w", a.config.RateLimit, err)
	}
	a.registerRoutes(r, limiter)

	ln, err := net.Listen("tcp", port)
	if err != nil {
		return err
	}
	// register holds the request open through the whole commit-wait-reveal cycle, so no write timeout
	a.server = &http.Server{
		Handler:           handlers.ProxyHeaders(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("api server listening", "addr", ln.Addr().String(), "network", a.network.Name)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server stopped", "err", err)
		}
	}()
	return nil
}

func (a *Agent) registerRoutes(r *gin.Engine, limiter gin.HandlerFunc) {
	r.GET("/", a.usage)
	v1 := r.Group("/api")
	{
		v1.GET("/health", a.health)

		free := v1.Group("/")
		if limiter != nil {
			free.Use(limiter)
		}
		free.GET("availability/:name", a.getAvailability)
		free.POST("availability", a.batchAvailability)
		free.GET("price/:name", a.getPrice)

		v1.GET("/register", a.getRegister)
		v1.POST("/register", a.postRegister)
	}
}

func (a *Agent) health(c *gin.Context) {
	c.JSON(http.StatusOK, schema.RespHealth{
		Status:  "ok",
		Service: ServiceName,
		Network: a.network.Name,
	})
}

func (a *Agent) usage(c *gin.Context) {
	c.JSON(http.StatusOK, schema.RespUsage{
		Service:     ServiceName,
		Description: "register .eth names through commit and reveal",
		Usage: map[string]any{
			"GET /api/register":  "?name=<name.eth>&owner=<address or ens name>&years=<n>&maxPriceWei=<wei>",
			"POST /api/register": map[string]any{"name": "example.eth", "owner": "0x...", "years": schema.DefaultYears, "maxPriceWei": "<optional>"},
			"minNameLength":      a.minNameLength(),
		},
		FreeEndpoints: map[string]string{
			"GET /api/health":             "service status",
			"GET /api/availability/:name": "availability of one name",
			"POST /api/availability":      fmt.Sprintf("availability of up to %d names", schema.MaxBatchAvailability),
			"GET /api/price/:name":        "rent price, ?years=<n>",
		},
	})
}

func (a *Agent) getAvailability(c *gin.Context) {
	resp, err := a.availability(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *Agent) batchAvailability(c *gin.Context) {
	req := schema.ReqBatchAvailability{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}
	if len(req.Names) == 0 || len(req.Names) > schema.MaxBatchAvailability {
		errorResponse(c, fmt.Sprintf("names must hold 1 to %d entries", schema.MaxBatchAvailability))
		return
	}
	c.JSON(http.StatusOK, a.CheckAvailabilityBatch(c.Request.Context(), req.Names))
}

func (a *Agent) getPrice(c *gin.Context) {
	years, err := parseYears(c.Query("years"))
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	canonical, err := NormalizeName(c.Param("name"))
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	seconds, err := DurationSeconds(years)
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	if resp, ok := a.cache.GetPrice(canonical, seconds); ok {
		c.JSON(http.StatusOK, resp)
		return
	}
	quote, err := a.quoter.QuoteSeconds(c.Request.Context(), canonical, seconds)
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	resp := schema.RespPrice{
		Name:       canonical,
		Years:      years,
		BaseWei:    quote.Base.String(),
		PremiumWei: quote.Premium.String(),
		TotalWei:   quote.Total().String(),
		TotalEth:   FormatEther(quote.Total()),
	}
	a.cache.SetPrice(seconds, resp)
	c.JSON(http.StatusOK, resp)
}

func (a *Agent) getRegister(c *gin.Context) {
	if c.Query("name") == "" && c.Query("owner") == "" {
		a.usage(c)
		return
	}
	req := schema.ReqRegister{
		Name:        c.Query("name"),
		Owner:       c.Query("owner"),
		MaxPriceWei: c.Query("maxPriceWei"),
	}
	if raw, ok := c.GetQuery("years"); ok {
		years, err := parseYears(raw)
		if err != nil {
			a.errorResponse(c, err)
			return
		}
		req.Years = &years
	}
	a.register(c, req)
}

func (a *Agent) postRegister(c *gin.Context) {
	req := schema.ReqRegister{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}
	a.register(c, req)
}

func (a *Agent) register(c *gin.Context, req schema.ReqRegister) {
	res, err := a.RegisterService(c.Request.Context(), req)
	if err != nil {
		a.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.RespRegister{
		Success:        true,
		Name:           res.Name,
		Owner:          res.Owner.Hex(),
		DurationSecond: res.Duration,
		CommitTxHash:   res.CommitTxHash.Hex(),
		RegisterTxHash: res.RegisterTxHash.Hex(),
		EnsCostEth:     FormatEther(res.Cost),
	})
}

// RegisterService applies the service policy on top of Register: a minimum label
// length, and when no ceiling is given, the current price plus the usual buffer.
func (a *Agent) RegisterService(ctx context.Context, req schema.ReqRegister) (*schema.RegistrationResult, error) {
	if err := a.CanRegister(); err != nil {
		return nil, err
	}
	canonical, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	if n := a.minNameLength(); utf8.RuneCountInString(Label(canonical)) < n {
		return nil, newError(ErrInvalidNameFormat, fmt.Sprintf("name must be at least %d characters before %s", n, schema.EthSuffix), nil)
	}
	years := float64(schema.DefaultYears)
	if req.Years != nil {
		years = *req.Years
	}
	maxPrice, err := parseWei(req.MaxPriceWei)
	if err != nil {
		return nil, err
	}
	if maxPrice == nil {
		quote, err := a.Quote(ctx, canonical, years)
		if err != nil {
			return nil, err
		}
		if quote.HasPremium() {
			return nil, guardPrice(quote, nil)
		}
		maxPrice = registerValue(quote.Total(), nil)
	}
	return a.Register(ctx, schema.RegistrationRequest{
		Name:           canonical,
		DurationYears:  years,
		OwnerSpecifier: req.Owner,
		Network:        a.network.Name,
		MaxPriceWei:    maxPrice,
	})
}

func (a *Agent) minNameLength() int {
	if a.config.MinNameLength > 0 {
		return a.config.MinNameLength
	}
	return schema.DefaultMinNameLength
}

func parseYears(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return schema.DefaultYears, nil
	}
	years, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, newError(ErrInvalidDuration, "years must be a number: "+s, nil)
	}
	return years, nil
}

func parseWei(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	wei, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || wei.Sign() < 0 {
		return nil, newError(ErrInvalidMaxPrice, "maxPriceWei must be a non-negative integer: "+s, nil)
	}
	return wei, nil
}

func statusOf(err error) int {
	switch {
	case config.IsConfigError(err), errors.Is(err, ErrSignerRequired):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidNameFormat), errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidOwnerAddress), errors.Is(err, ErrOwnerResolutionFailed),
		errors.Is(err, ErrInvalidMaxPrice):
		return http.StatusBadRequest
	case errors.Is(err, ErrNameUnavailable), errors.Is(err, ErrTemporaryPremiumActive),
		errors.Is(err, ErrPriceExceededLimit):
		return http.StatusConflict
	case errors.Is(err, ErrCommitmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCommitmentExpired):
		return http.StatusGone
	case errors.Is(err, ErrRegistrationInterrupted):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *Agent) errorResponse(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "kind", Kind(err), "err", err)
	}
	c.JSON(status, schema.RespErr{
		Err:     err.Error(),
		Kind:    Kind(err),
		Pending: Pending(err),
	})
}

func errorResponse(c *gin.Context, err string) {
	// client error
	c.JSON(http.StatusBadRequest, schema.RespErr{
		Err: err,
	})
}
