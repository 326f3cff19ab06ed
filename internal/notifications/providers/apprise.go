package providers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// AppriseProvider shells out to the apprise CLI, which fans out to any service it supports.
type AppriseProvider struct {
	urls []string
}

func NewAppriseProvider(urls []string) *AppriseProvider {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	return &AppriseProvider{urls: cleaned}
}

func (p *AppriseProvider) Name() string { return "apprise" }

func (p *AppriseProvider) Available() bool {
	_, err := exec.LookPath("apprise")
	return err == nil
}

func (p *AppriseProvider) Validate() error {
	if len(p.urls) == 0 {
		return fmt.Errorf("apprise urls not configured")
	}
	return nil
}

func (p *AppriseProvider) Send(ctx context.Context, message Message) error {
	if !p.Available() {
		return fmt.Errorf("apprise not installed")
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	args := []string{"-t", message.Title, "-b", message.Body}
	args = append(args, p.urls...)
	cmd := exec.CommandContext(timeoutCtx, "apprise", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apprise failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}
