package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout 是 ctx 结束后等待进行中请求完成的上限。
const shutdownTimeout = 10 * time.Second

// Serve 在指定端口监听直到 ctx 取消，然后优雅关闭。监听失败会立即返回。
func Serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{
		"action": "shutdown",
		"port":   port,
	}).Info("stopping admin server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
