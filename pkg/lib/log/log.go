// Package log 提供 go-comms 统一日志接口
//
// 基于标准库 log/slog 封装，每个组件通过 Logger(component) 获取带组件名的
// LazyLogger。日志级别支持按组件配置：
//
//	COMMS_LOG_LEVEL=connmgr=debug,noise=warn,info
//	COMMS_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// levelConfig 组件级别配置
type levelConfig struct {
	mu         sync.RWMutex
	defaultLvl slog.Level
	components map[string]slog.Level
}

var levels = &levelConfig{
	defaultLvl: slog.LevelInfo,
	components: make(map[string]slog.Level),
}

// levelFor 返回组件的日志级别
//
// 组件名按前缀匹配：配置 "connmgr" 同时作用于 "core/connmgr"。
func (c *levelConfig) levelFor(component string) slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if lvl, ok := c.components[component]; ok {
		return lvl
	}
	if idx := strings.LastIndex(component, "/"); idx >= 0 {
		if lvl, ok := c.components[component[idx+1:]]; ok {
			return lvl
		}
	}
	return c.defaultLvl
}

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New 创建文本格式 logger
func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSON 创建 JSON 格式 logger
func NewJSON(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetOutputWithLevel 同时设置日志输出目标和级别
func SetOutputWithLevel(w io.Writer, level slog.Level) {
	levels.mu.Lock()
	levels.defaultLvl = level
	levels.mu.Unlock()

	// handler 放行所有级别，过滤由 LazyLogger 按组件完成
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if strings.EqualFold(os.Getenv("COMMS_LOG_FORMAT"), "json") {
		slog.SetDefault(NewJSON(w, opts))
		return
	}
	slog.SetDefault(New(w, opts))
}

// SetLevel 设置默认日志级别
func SetLevel(level slog.Level) {
	levels.mu.Lock()
	defer levels.mu.Unlock()
	levels.defaultLvl = level
}

// SetComponentLevel 设置指定组件的日志级别
func SetComponentLevel(component string, level slog.Level) {
	levels.mu.Lock()
	defer levels.mu.Unlock()
	levels.components[component] = level
}

// ParseLevels 解析级别配置字符串
//
// 格式: 组件=级别,组件=级别,默认级别
func ParseLevels(spec string) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, lvl, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(lvl); ok {
				SetComponentLevel(strings.TrimSpace(name), level)
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			SetLevel(level)
		}
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时动态切换日志输出目标。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if level < levels.levelFor(l.component) {
		return
	}
	slog.Default().With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return slog.Default().With("component", l.component).With(args...)
}

// Enabled 检查组件是否启用了指定级别
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return level >= levels.levelFor(l.component)
}

func init() {
	if spec := os.Getenv("COMMS_LOG_LEVEL"); spec != "" {
		ParseLevels(spec)
	}
}
