package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/sysutil"
)

// ErrPhase 阶段调用顺序非法 (PRE 拒绝后调用 POST, 或重复调用)
var ErrPhase = errors.New("evaluation phase out of order")

// Reason 拒绝原因
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDestructiveDisposition
	ReasonDestructiveAccessOrDeleteOnClose
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDestructiveDisposition:
		return "destructive-disposition"
	case ReasonDestructiveAccessOrDeleteOnClose:
		return "destructive-access-or-delete-on-close"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Decision 单次判定结果
type Decision struct {
	Deny   bool
	Reason Reason
}

var Allow = Decision{}

func deny(r Reason) Decision { return Decision{Deny: true, Reason: r} }

func (d Decision) Allowed() bool { return !d.Deny }

func (d Decision) String() string {
	if !d.Deny {
		return "allow"
	}
	return "deny(" + d.Reason.String() + ")"
}

// Attempt 拦截层提供的一次打开尝试
type Attempt interface {
	// Request 打开参数; 引擎会填充 Path 和 ProcessImage
	Request() *model.FileOpenRequest
	// ResolvePath 返回规范化路径, 仅在需要时调用
	ResolvePath() (string, error)
	// CancelOpen 撤销已完成的打开
	CancelOpen() error
}

// OpenResult 底层打开的结果, 供 POST 阶段使用
type OpenResult struct {
	Err           error
	Redirected    bool
	GrantedAccess model.AccessMask
}

// Policy 受保护路径查询
type Policy interface {
	Enabled() bool
	IsProtected(candidate string) bool
}

// Notifier 将拒绝事件发送给监控端; 阻塞直到监控端回复
type Notifier interface {
	SendNotification(n *model.Notification) error
}

type Engine struct {
	policy    Policy
	inspector sysutil.ProcessInspector
	notifier  Notifier
	logger    *zap.Logger
}

func New(policy Policy, notifier Notifier, inspector sysutil.ProcessInspector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		policy:    policy,
		notifier:  notifier,
		inspector: inspector,
		logger:    logger,
	}
}

// Phase 判定状态
type Phase int

const (
	PhaseNew Phase = iota
	PhasePreAllowed
	PhaseDenied
	PhaseDone
)

// Evaluation 单次打开尝试的两阶段状态机, 不可并发使用
type Evaluation struct {
	engine  *Engine
	attempt Attempt
	phase   Phase
}

// Begin 为一次打开尝试创建判定
func (e *Engine) Begin(a Attempt) *Evaluation {
	return &Evaluation{engine: e, attempt: a}
}

func (ev *Evaluation) Phase() Phase { return ev.phase }

// Pre 打开执行之前: 只看处理方式
func (ev *Evaluation) Pre() (Decision, error) {
	if ev.phase != PhaseNew {
		return Allow, ErrPhase
	}
	ev.phase = PhasePreAllowed

	e := ev.engine
	if !e.policy.Enabled() {
		return Allow, nil
	}
	path, ok := e.protectedPath(ev.attempt)
	if !ok {
		return Allow, nil
	}

	req := ev.attempt.Request()
	if req.Disposition.Destructive() {
		ev.phase = PhaseDenied
		d := deny(ReasonDestructiveDisposition)
		e.report("pre", d, path, req)
		return d, nil
	}
	return Allow, nil
}

// Post 打开完成之后: 检查授予的权限, 拒绝时撤销打开
func (ev *Evaluation) Post(res OpenResult) (Decision, error) {
	if ev.phase != PhasePreAllowed {
		return Allow, ErrPhase
	}
	ev.phase = PhaseDone

	if res.Err != nil || res.Redirected {
		return Allow, nil
	}
	e := ev.engine
	if !e.policy.Enabled() {
		return Allow, nil
	}
	path, ok := e.protectedPath(ev.attempt)
	if !ok {
		return Allow, nil
	}

	req := ev.attempt.Request()
	if res.GrantedAccess.Has(model.AccessDestructive) || req.Options&model.OptionDeleteOnClose != 0 {
		d := deny(ReasonDestructiveAccessOrDeleteOnClose)
		e.report("post", d, path, req)
		if err := ev.attempt.CancelOpen(); err != nil {
			e.logger.Warn("⚠️ failed to cancel open", zap.String("path", path), zap.Error(err))
		}
		return d, nil
	}
	return Allow, nil
}

// protectedPath 解析失败按放行处理
func (e *Engine) protectedPath(a Attempt) (string, bool) {
	path, err := a.ResolvePath()
	if err != nil {
		e.logger.Debug("path resolution failed, allowing", zap.Error(err))
		return "", false
	}
	if !e.policy.IsProtected(path) {
		return "", false
	}
	a.Request().Path = path
	return path, true
}

func (e *Engine) report(phase string, d Decision, path string, req *model.FileOpenRequest) {
	if req.ProcessImage == "" && e.inspector != nil {
		if img, err := e.inspector.ImagePath(req.ProcessID); err == nil {
			req.ProcessImage = img
		}
	}

	e.logger.Info("🚫 open denied",
		zap.String("phase", phase),
		zap.Stringer("reason", d.Reason),
		zap.String("path", path),
		zap.Uint32("pid", req.ProcessID),
		zap.String("image", req.ProcessImage),
		zap.Stringer("disposition", req.Disposition),
		zap.Stringer("access", req.DesiredAccess),
	)

	if e.notifier == nil {
		return
	}

	n, truncated := model.NewNotification(path, req.ProcessImage, req.ProcessID)
	if truncated {
		e.logger.Warn("notification fields truncated", zap.String("path", path))
	}
	if err := e.notifier.SendNotification(&n); err != nil {
		e.logger.Debug("notification dropped", zap.String("path", path), zap.Error(err))
	}
}
