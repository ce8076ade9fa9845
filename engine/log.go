package engine

import "go.uber.org/zap"

func zapErrField(err error) zap.Field { return zap.Error(err) }
