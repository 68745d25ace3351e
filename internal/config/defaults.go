package config

const (
	// ModePolling drives jobs with the periodic stage dispatcher.
	ModePolling = "polling"
	// ModeScheduled runs each job as one unit on the bounded scheduler.
	ModeScheduled = "scheduled"

	StorageLocal = "local"
	StorageS3    = "s3"
)

const (
	defaultDataDir                 = "~/.local/share/galley"
	defaultLogDir                  = "~/.local/share/galley/logs"
	defaultTemplateDir             = "~/.local/share/galley/templates"
	defaultOutputDir               = "~/.local/share/galley/output"
	defaultObjectRoot              = "~/.local/share/galley/objects"
	defaultAPIBind                 = "127.0.0.1:7631"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultSweepInterval           = 5
	defaultTemplateTimeout         = 600
	defaultTaggedTextTimeout       = 900
	defaultRenderTimeout           = 1800
	defaultMaxConcurrentJobs       = 4
	defaultShutdownTimeout         = 30
	defaultExchange                = "galley.transform"
	defaultTemplateQueue           = "galley.template"
	defaultTaggedTextQueue         = "galley.tagged_text"
	defaultStatusRatePerSecond     = 20
	defaultStatusBurst             = 5
	defaultRenderRequestTimeout    = 600
	defaultRenderEndpointURL       = "http://127.0.0.1:8471"
	defaultScriptTaggedText        = "tagged-text.jsx"
	defaultScriptOpenDocument      = "open-document.jsx"
	defaultScriptApplyLayout       = "apply-layout.jsx"
	defaultScriptExportPDF         = "export-pdf.jsx"
	defaultScriptExportPackage     = "export-package.jsx"
	defaultAWSRegion               = "us-east-1"
	defaultLayoutPageWidthPoints   = 432
	defaultLayoutPageHeightPoints  = 648
	defaultLayoutFontSizePoints    = 11
	defaultLayoutLineSpacingPoints = 13
	defaultLayoutMarginPoints      = 54
	minLayoutPageDimensionPoints   = 144
	maxLayoutPageDimensionPoints   = 1728
	minLayoutFontSizePoints        = 6
	maxLayoutFontSizePoints        = 36
	minLayoutLineSpacingPoints     = 6
	maxLayoutLineSpacingPoints     = 48
	minLayoutMarginPoints          = 0
	maxLayoutMarginPoints          = 144
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			TemplateDir: defaultTemplateDir,
			OutputDir:   defaultOutputDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Engine: Engine{
			Mode: ModeScheduled,
		},
		Workflow: Workflow{
			SweepInterval:     defaultSweepInterval,
			TemplateTimeout:   defaultTemplateTimeout,
			TaggedTextTimeout: defaultTaggedTextTimeout,
			RenderTimeout:     defaultRenderTimeout,
		},
		Scheduler: Scheduler{
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			ShutdownTimeout:   defaultShutdownTimeout,
		},
		Transform: Transform{
			Exchange:            defaultExchange,
			TemplateQueue:       defaultTemplateQueue,
			TaggedTextQueue:     defaultTaggedTextQueue,
			StatusRatePerSecond: defaultStatusRatePerSecond,
			StatusBurst:         defaultStatusBurst,
		},
		Storage: Storage{
			Backend:   StorageLocal,
			LocalRoot: defaultObjectRoot,
		},
		Render: Render{
			RequestTimeout: defaultRenderRequestTimeout,
			Scripts: RenderScripts{
				TaggedText:    defaultScriptTaggedText,
				OpenDocument:  defaultScriptOpenDocument,
				ApplyLayout:   defaultScriptApplyLayout,
				ExportPDF:     defaultScriptExportPDF,
				ExportPackage: defaultScriptExportPackage,
			},
		},
		Auth: Auth{
			Projects: map[string][]string{},
		},
		Projects: map[string]Project{},
		Layout: Layout{
			PageWidth:   Bound{Min: minLayoutPageDimensionPoints, Max: maxLayoutPageDimensionPoints, Default: defaultLayoutPageWidthPoints},
			PageHeight:  Bound{Min: minLayoutPageDimensionPoints, Max: maxLayoutPageDimensionPoints, Default: defaultLayoutPageHeightPoints},
			FontSize:    Bound{Min: minLayoutFontSizePoints, Max: maxLayoutFontSizePoints, Default: defaultLayoutFontSizePoints},
			LineSpacing: Bound{Min: minLayoutLineSpacingPoints, Max: maxLayoutLineSpacingPoints, Default: defaultLayoutLineSpacingPoints},
			Margin:      Bound{Min: minLayoutMarginPoints, Max: maxLayoutMarginPoints, Default: defaultLayoutMarginPoints},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
