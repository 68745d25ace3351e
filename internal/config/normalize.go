package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeTransform()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeAccess()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TemplateDir, err = expandPath(c.Paths.TemplateDir); err != nil {
		return fmt.Errorf("paths.template_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Mode = strings.ToLower(strings.TrimSpace(c.Engine.Mode))
	if c.Engine.Mode == "" {
		c.Engine.Mode = ModeScheduled
	}
}

func (c *Config) normalizeTransform() {
	c.Transform.AMQPURL = strings.TrimSpace(c.Transform.AMQPURL)
	if c.Transform.AMQPURL == "" {
		if value, ok := os.LookupEnv("GALLEY_AMQP_URL"); ok {
			c.Transform.AMQPURL = strings.TrimSpace(value)
		}
	}
	c.Transform.Exchange = strings.TrimSpace(c.Transform.Exchange)
	c.Transform.TemplateQueue = strings.TrimSpace(c.Transform.TemplateQueue)
	if c.Transform.TemplateQueue == "" {
		c.Transform.TemplateQueue = defaultTemplateQueue
	}
	c.Transform.TaggedTextQueue = strings.TrimSpace(c.Transform.TaggedTextQueue)
	if c.Transform.TaggedTextQueue == "" {
		c.Transform.TaggedTextQueue = defaultTaggedTextQueue
	}
	if c.Transform.StatusBurst <= 0 {
		c.Transform.StatusBurst = defaultStatusBurst
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if strings.TrimSpace(c.Storage.LocalRoot) == "" {
		c.Storage.LocalRoot = defaultObjectRoot
	}
	var err error
	if c.Storage.LocalRoot, err = expandPath(c.Storage.LocalRoot); err != nil {
		return fmt.Errorf("storage.local_root: %w", err)
	}
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	if c.Storage.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok && strings.TrimSpace(value) != "" {
			c.Storage.S3Region = strings.TrimSpace(value)
		} else {
			c.Storage.S3Region = defaultAWSRegion
		}
	}
	return nil
}

func (c *Config) normalizeRender() {
	endpoints := make([]RenderEndpoint, 0, len(c.Render.Endpoints))
	for i, ep := range c.Render.Endpoints {
		ep.URL = strings.TrimRight(strings.TrimSpace(ep.URL), "/")
		if ep.URL == "" {
			continue
		}
		ep.Name = strings.TrimSpace(ep.Name)
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("endpoint-%d", i+1)
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		endpoints = append(endpoints, RenderEndpoint{Name: "local", URL: defaultRenderEndpointURL})
	}
	c.Render.Endpoints = endpoints

	scripts := &c.Render.Scripts
	for _, pair := range []struct {
		value    *string
		fallback string
	}{
		{&scripts.TaggedText, defaultScriptTaggedText},
		{&scripts.OpenDocument, defaultScriptOpenDocument},
		{&scripts.ApplyLayout, defaultScriptApplyLayout},
		{&scripts.ExportPDF, defaultScriptExportPDF},
		{&scripts.ExportPackage, defaultScriptExportPackage},
	} {
		*pair.value = strings.TrimSpace(*pair.value)
		if *pair.value == "" {
			*pair.value = pair.fallback
		}
	}
}

func (c *Config) normalizeAccess() {
	projects := make(map[string][]string, len(c.Auth.Projects))
	for project, users := range c.Auth.Projects {
		name := strings.TrimSpace(project)
		if name == "" {
			continue
		}
		cleaned := make([]string, 0, len(users))
		for _, user := range users {
			if user = strings.TrimSpace(user); user != "" {
				cleaned = append(cleaned, user)
			}
		}
		projects[name] = cleaned
	}
	c.Auth.Projects = projects
	if c.Projects == nil {
		c.Projects = map[string]Project{}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
