package logger

import (
	"time"

	"github.com/dropDatabas3/johnid/internal/util"
	"go.uber.org/zap"
)

// ─── Sistema ───

func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ─── Identidad ───

func UserID(v string) zap.Field   { return zap.String("user_id", v) }
func UserName(v string) zap.Field { return zap.String("user_name", v) }
func AppID(v string) zap.Field    { return zap.String("app_id", v) }
func Provider(v string) zap.Field { return zap.String("provider", v) }
func Purpose(v string) zap.Field  { return zap.String("purpose", v) }
func Role(v string) zap.Field     { return zap.String("role", v) }
func Outcome(v string) zap.Field  { return zap.String("outcome", v) }

// Email loguea el email enmascarado.
func Email(v string) zap.Field { return zap.String("email", util.MaskEmail(v)) }

// Phone loguea el teléfono enmascarado.
func Phone(v string) zap.Field { return zap.String("phone", util.MaskPhone(v)) }

// ─── Genéricos ───

func Count(v int) zap.Field          { return zap.Int("count", v) }
func String(key, v string) zap.Field { return zap.String(key, v) }
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
