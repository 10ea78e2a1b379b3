package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunServesAdminAPIUntilCancelled(t *testing.T) {
	port := freePort(t)
	dir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "error"
ListenPort = %d
StoragePath = "%s"

[[Cache]]
Name = "sessions"
`, port, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, cliOptions{configPath: configPath})
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitForServer(t, base+"/-/caches")

	req, _ := http.NewRequest(http.MethodPut, base+"/caches/sessions/token", strings.NewReader(`"abc"`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT 请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("期望 204，得到 %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/caches/sessions/token")
	if err != nil {
		t.Fatalf("GET 请求失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `"abc"` {
		t.Fatalf("读取到的值不符合预期: %s", body)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("服务应正常退出，得到 %d (stderr=%s)", code, stdErrBuffer().String())
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("服务未在取消后退出")
	}

	entry := filepath.Join(dir, "storage", "io.spate.diskCache", "sessions", "token.cache")
	if _, err := os.Stat(entry); err != nil {
		t.Fatalf("退出后条目应已落盘: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("分配端口失败: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("服务未在超时前就绪: %s", url)
}
