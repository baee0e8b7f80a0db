package dom

import (
	"fmt"

	"go.uber.org/zap"
)

// ZapConsole routes guest console output to a zap logger at the matching
// level. console.log and console.info both log at info.
type ZapConsole struct {
	logger *zap.Logger
	format func(any) string
}

var _ Console = (*ZapConsole)(nil)

// NewZapConsole creates a console. format renders each logged value; nil
// uses fmt's %v.
func NewZapConsole(logger *zap.Logger, format func(any) string) *ZapConsole {
	if format == nil {
		format = func(v any) string { return fmt.Sprintf("%v", v) }
	}
	return &ZapConsole{
		logger: logger.With(zap.String("component", "guest-console")),
		format: format,
	}
}

func (c *ZapConsole) Debug(v any) { c.logger.Debug(c.format(v)) }
func (c *ZapConsole) Info(v any)  { c.logger.Info(c.format(v)) }
func (c *ZapConsole) Log(v any)   { c.logger.Info(c.format(v)) }
func (c *ZapConsole) Warn(v any)  { c.logger.Warn(c.format(v)) }
func (c *ZapConsole) Error(v any) { c.logger.Error(c.format(v)) }
