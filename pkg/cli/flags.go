package cli

import (
	"io"

	"github.com/platinummonkey/insight/pkg/storage"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to YAML config file (defaults to INSIGHT_CONFIG_FILE)" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// deps are the collaborators a command would otherwise open from config.
// Nil fields are opened on demand; tests inject fakes.
type deps struct {
	stdout   io.Writer
	logs     io.Writer
	durable  storage.DurableStore
	counters storage.CounterStore
}

// MigrateCommand moves the legacy view tables onto the new schema.
type MigrateCommand struct {
	DryRun    bool `long:"dry-run" description:"Read and count everything, write nothing"`
	BatchSize *int `long:"batch-size" description:"Rows read per page (default from config, 1000)"`

	globals *GlobalFlags
	version string
	deps    *deps
}

// FlushCommand writes live counters into the durable statistics table.
type FlushCommand struct {
	RunOnce  bool   `long:"run-once" description:"Flush once and exit"`
	Schedule string `long:"schedule" description:"Cron schedule overriding the configured one"`

	globals *GlobalFlags
	version string
	deps    *deps
}

// StatsCommand prints the live counters of one object.
type StatsCommand struct {
	Type string `long:"type" description:"Content type as app_label.model or numeric id" required:"true"`
	ID   int64  `long:"id" description:"Object id" required:"true"`

	globals *GlobalFlags
	version string
	deps    *deps
}

// RecordCommand records one page view.
type RecordCommand struct {
	Type      string `long:"type" description:"Content type as app_label.model or numeric id" required:"true"`
	ID        int64  `long:"id" description:"Object id" required:"true"`
	Session   string `long:"session" description:"Visitor session key" required:"true"`
	URL       string `long:"url" description:"Viewed URL" required:"true"`
	IP        string `long:"ip" description:"Visitor IP address"`
	UserAgent string `long:"user-agent" description:"Visitor user agent"`
	Referrer  string `long:"referrer" description:"Referring URL"`

	globals *GlobalFlags
	version string
	deps    *deps
}
