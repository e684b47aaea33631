package guardfs

import (
	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/engine"
	"github.com/Hara602/dirSentry/internal/model"
)

// 所有探测打开都带上的基础权限
const baseAccess = model.AccessReadAttributes | model.AccessSynchronize

// Guard 把真实的文件操作转换为引擎的两阶段判定
type Guard struct {
	engine *engine.Engine
	logger *zap.Logger
}

func New(eng *engine.Engine, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{engine: eng, logger: logger}
}

// outcome 底层打开的结果
type outcome struct {
	cancel     func() error
	redirected bool
	err        error
}

// op 一次待判定的打开
type op struct {
	pid     uint32
	disp    model.Disposition
	access  model.AccessMask
	options model.OpenOptions
	resolve func() (string, error)
	open    func() outcome
}

type attempt struct {
	req     model.FileOpenRequest
	resolve func() (string, error)
	cancel  func() error
}

func (a *attempt) Request() *model.FileOpenRequest { return &a.req }
func (a *attempt) ResolvePath() (string, error)    { return a.resolve() }

func (a *attempt) CancelOpen() error {
	if a.cancel == nil {
		return nil
	}
	return a.cancel()
}

// check PRE -> 打开 -> POST; denied 为 true 时底层打开未执行或已被撤销
func (g *Guard) check(o op) (denied bool, res outcome) {
	a := &attempt{
		req: model.FileOpenRequest{
			ProcessID:     o.pid,
			Disposition:   o.disp,
			DesiredAccess: o.access,
			Options:       o.options,
		},
		resolve: o.resolve,
	}
	ev := g.engine.Begin(a)

	d, err := ev.Pre()
	if err != nil {
		g.logger.Error("pre evaluation failed", zap.Error(err))
	}
	if !d.Allowed() {
		return true, outcome{}
	}

	res = o.open()
	a.cancel = res.cancel

	d, err = ev.Post(engine.OpenResult{Err: res.err, Redirected: res.redirected, GrantedAccess: o.access})
	if err != nil {
		g.logger.Error("post evaluation failed", zap.Error(err))
	}
	return !d.Allowed(), res
}
