// Package metrics 注册各组件的 prometheus 指标
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Register 把 collector 注册到 r，已注册过同名指标时返回已有的 collector
// r 为 nil 时使用默认 registry
func Register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Status 把错误转换为 status 标签值
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
