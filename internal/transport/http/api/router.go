package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arena/internal/agent"
	"arena/internal/config"
	"arena/internal/flipflop"
	"arena/internal/logger"
	"arena/internal/prompt"
	"arena/internal/regime"
	"arena/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

// CycleReader 查询审计日志。
type CycleReader interface {
	GetCycle(ctx context.Context, traceID string) (gormstore.CycleRecord, error)
	ListCycles(ctx context.Context, f gormstore.CycleFilter) ([]gormstore.CycleRecord, error)
	ListExecutions(ctx context.Context, account string, limit int) ([]gormstore.ExecutionRecord, error)
}

// GuardReader 读取防反手状态。
type GuardReader interface {
	Snapshot(ctx context.Context, account string) (flipflop.Snapshot, error)
}

// ConfirmationSink 消费外部执行引擎的成交回报。
type ConfirmationSink interface {
	Confirm(ctx context.Context, c agent.Confirmation) error
}

// TemplateStore 管理提示词模板与账户绑定。
type TemplateStore interface {
	List() []prompt.Template
	Get(key string) (prompt.Template, bool)
	Put(tpl prompt.Template) error
	Restore(key string) (prompt.Template, error)
	Bind(accountID, key string) error
	ForAccount(accountID string) prompt.Template
}

// CycleControl 暴露账户查询、预览与手动触发。
type CycleControl interface {
	Account(id string) (config.AccountConfig, bool)
	RunAccount(ctx context.Context, acc config.AccountConfig) agent.CycleResult
	Preview(ctx context.Context, acc config.AccountConfig, text string) (agent.PreviewResult, error)
	Regime(ctx context.Context) (regime.Classification, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Router 挂载 /api 下的接口。
type Router struct {
	cycles    CycleReader
	guard     GuardReader
	sink      ConfirmationSink
	templates TemplateStore
	runner    CycleControl
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		cycles:    cfg.Cycles,
		guard:     cfg.Guard,
		sink:      cfg.Sink,
		templates: cfg.Templates,
		runner:    cfg.Runner,
	}
}

// Register 将路由挂载到给定分组下；缺失依赖的接口不注册。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/cycles", r.handleListCycles)
	group.GET("/cycles/:trace_id", r.handleCycleByID)
	group.GET("/executions", r.handleListExecutions)
	if r.sink != nil {
		group.POST("/executions", r.handleConfirm)
	}
	if r.guard != nil {
		group.GET("/guard/:account", r.handleGuard)
	}
	if r.templates != nil {
		group.GET("/templates", r.handleListTemplates)
		group.GET("/templates/:key", r.handleGetTemplate)
		group.PUT("/templates/:key", r.handlePutTemplate)
		group.POST("/templates/:key/restore", r.handleRestoreTemplate)
		group.POST("/accounts/:id/template", r.handleBindTemplate)
	}
	if r.runner != nil {
		group.GET("/regime", r.handleRegime)
		group.POST("/prompt/preview", r.handlePreview)
		group.POST("/accounts/:id/run", r.handleRun)
	}
}

func listLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func (r *Router) handleListCycles(c *gin.Context) {
	filter := gormstore.CycleFilter{
		Account: strings.TrimSpace(c.Query("account")),
		Status:  gormstore.CycleStatus(strings.TrimSpace(c.Query("status"))),
		Limit:   listLimit(c),
	}
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be unix millis"})
			return
		}
		filter.Before = time.UnixMilli(ms)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.cycles.ListCycles(ctx, filter)
	if err != nil {
		logger.Errorf("[api] list cycles failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": records, "count": len(records)})
}

func (r *Router) handleCycleByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("trace_id"))
	rec, err := r.cycles.GetCycle(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found"})
			return
		}
		logger.Errorf("[api] cycle detail failed ip=%s trace=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleListExecutions(c *gin.Context) {
	records, err := r.cycles.ListExecutions(c.Request.Context(), strings.TrimSpace(c.Query("account")), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}

func (r *Router) handleConfirm(c *gin.Context) {
	var conf agent.Confirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(conf.Account) == "" || strings.TrimSpace(conf.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account and symbol required"})
		return
	}
	if _, err := conf.Direction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if r.runner != nil {
		if _, ok := r.runner.Account(conf.Account); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
			return
		}
	}
	if err := r.sink.Confirm(c.Request.Context(), conf); err != nil {
		logger.Errorf("[api] confirm failed ip=%s account=%s symbol=%s err=%v", c.ClientIP(), conf.Account, conf.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] execution confirmed account=%s symbol=%s op=%s", conf.Account, conf.Symbol, conf.Operation)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (r *Router) handleGuard(c *gin.Context) {
	snap, err := r.guard.Snapshot(c.Request.Context(), c.Param("account"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": r.templates.List()})
}

func (r *Router) handleGetTemplate(c *gin.Context) {
	tpl, ok := r.templates.Get(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

type templateBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Text        string `json:"text" binding:"required"`
}

func (r *Router) handlePutTemplate(c *gin.Context) {
	var body templateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tpl := prompt.Template{Key: c.Param("key"), Name: body.Name, Description: body.Description, Text: body.Text}
	if err := r.templates.Put(tpl); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	saved, _ := r.templates.Get(tpl.Key)
	logger.Infof("[api] template updated key=%s ip=%s", saved.Key, c.ClientIP())
	c.JSON(http.StatusOK, saved)
}

func (r *Router) handleRestoreTemplate(c *gin.Context) {
	tpl, err := r.templates.Restore(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (r *Router) handleBindTemplate(c *gin.Context) {
	var body struct {
		Template string `json:"template" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if r.runner != nil {
		if _, ok := r.runner.Account(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
	}
	if err := r.templates.Bind(id, body.Template); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": id, "template": r.templates.ForAccount(id).Key})
}

func (r *Router) handleRegime(c *gin.Context) {
	cls, err := r.runner.Regime(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regime": cls, "summary": cls.Summary()})
}

func (r *Router) handlePreview(c *gin.Context) {
	var body struct {
		Account string `json:"account" binding:"required"`
		Text    string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, ok := r.runner.Account(body.Account)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	res, err := r.runner.Preview(c.Request.Context(), acc, body.Text)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, prompt.ErrTemplate) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleRun(c *gin.Context) {
	acc, ok := r.runner.Account(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	res := r.runner.RunAccount(c.Request.Context(), acc)
	out := gin.H{
		"trace_id":   res.TraceID,
		"account":    res.Account,
		"generation": res.Generation,
		"status":     res.Status,
		"template":   res.Template,
		"provider":   res.Provider,
		"regime":     res.Regime,
		"decisions":  res.Report.Results,
		"dropped":    res.Report.Dropped,
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	logger.Infof("[api] manual cycle account=%s trace=%s status=%s", acc.ID, res.TraceID, res.Status)
	c.JSON(http.StatusOK, out)
}
