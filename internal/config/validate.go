package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateLayout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	switch c.Engine.Mode {
	case ModePolling, ModeScheduled:
		return nil
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModePolling, ModeScheduled, c.Engine.Mode)
	}
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.sweep_interval":      c.Workflow.SweepInterval,
		"workflow.template_timeout":    c.Workflow.TemplateTimeout,
		"workflow.tagged_text_timeout": c.Workflow.TaggedTextTimeout,
		"workflow.render_timeout":      c.Workflow.RenderTimeout,
	}); err != nil {
		return err
	}
	// Queue-backed stages must be polled several times inside their budget.
	for key, timeout := range map[string]int{
		"workflow.template_timeout":    c.Workflow.TemplateTimeout,
		"workflow.tagged_text_timeout": c.Workflow.TaggedTextTimeout,
		"workflow.render_timeout":      c.Workflow.RenderTimeout,
	} {
		if c.Workflow.SweepInterval*5 > timeout {
			return fmt.Errorf("workflow.sweep_interval (%ds) must be at most one fifth of %s (%ds)", c.Workflow.SweepInterval, key, timeout)
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	return ensurePositiveMap(map[string]int{
		"scheduler.max_concurrent_jobs": c.Scheduler.MaxConcurrentJobs,
		"scheduler.shutdown_timeout":    c.Scheduler.ShutdownTimeout,
	})
}

func (c *Config) validateTransform() error {
	if c.Engine.Mode == ModePolling && c.Transform.AMQPURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/galley/config.toml"
		}
		return fmt.Errorf("transform.amqp_url is required when engine.mode is %q. Set GALLEY_AMQP_URL or edit %s (create with 'galley config init')", ModePolling, defaultPath)
	}
	if c.Transform.TemplateQueue == c.Transform.TaggedTextQueue {
		return errors.New("transform.template_queue and transform.tagged_text_queue must differ")
	}
	if c.Transform.StatusRatePerSecond < 0 {
		return errors.New("transform.status_rate_per_second must be >= 0 (0 disables throttling)")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalRoot == "" {
			return errors.New("storage.local_root must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3")
		}
		if c.Storage.S3Endpoint != "" {
			if _, err := url.ParseRequestURI(c.Storage.S3Endpoint); err != nil {
				return fmt.Errorf("storage.s3_endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageLocal, StorageS3, c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.RequestTimeout <= 0 {
		return errors.New("render.request_timeout must be positive")
	}
	if len(c.Render.Endpoints) == 0 {
		return errors.New("render.endpoints must include at least one endpoint")
	}
	seen := make(map[string]struct{}, len(c.Render.Endpoints))
	for _, ep := range c.Render.Endpoints {
		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("render.endpoints: duplicate name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}
		parsed, err := url.ParseRequestURI(ep.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("render.endpoints[%s].url must be an http(s) URL, got %q", ep.Name, ep.URL)
		}
	}
	return nil
}

func (c *Config) validateLayout() error {
	for name, b := range map[string]Bound{
		"layout.page_width":   c.Layout.PageWidth,
		"layout.page_height":  c.Layout.PageHeight,
		"layout.font_size":    c.Layout.FontSize,
		"layout.line_spacing": c.Layout.LineSpacing,
		"layout.margin":       c.Layout.Margin,
	} {
		if b.Min < 0 || b.Min > b.Max {
			return fmt.Errorf("%s: min must be between 0 and max", name)
		}
		if b.Default < b.Min || b.Default > b.Max {
			return fmt.Errorf("%s: default %.2f outside [%.2f, %.2f]", name, b.Default, b.Min, b.Max)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

