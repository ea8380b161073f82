package safe

import (
	"MeshHub/logger"
)

// SafeGo starts a goroutine that recovers from panic, so a single
// misbehaving handler cannot take down the whole process.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
