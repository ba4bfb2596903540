// Logging for the scheduler core.
//
// A single RootLogger (swappable for tests) backs one *logrus.Entry per
// component obtained via NewCompLogger, with JSON or text output and
// optional rotation via lumberjack.

package tasksched_internal

import (
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LOGGER_CONFIG_USE_JSON_DEFAULT                = false
	LOGGER_CONFIG_LEVEL_DEFAULT                   = "info"
	LOGGER_CONFIG_DISABLE_SRC_FILE_DEFAULT        = false
	LOGGER_CONFIG_LOG_FILE_DEFAULT                = "" // i.e. stderr
	LOGGER_CONFIG_LOG_FILE_MAX_SIZE_MB_DEFAULT    = 10
	LOGGER_CONFIG_LOG_FILE_MAX_BACKUP_NUM_DEFAULT = 1

	LOGGER_DEFAULT_LEVEL    = logrus.InfoLevel
	LOGGER_TIMESTAMP_FORMAT = time.RFC3339
	LOGGER_COMPONENT_FIELD_NAME = "comp"
)

// CollectableLogger satisfies testutils.CollectableLog so tests can swap the
// output/level of the root logger without touching package state directly.
type CollectableLogger struct {
	logrus.Logger
	IsEnabledForDebug bool
}

func (log *CollectableLogger) GetOutput() io.Writer { return log.Out }

func (log *CollectableLogger) GetLevel() any { return log.Logger.GetLevel() }

func (log *CollectableLogger) SetLevel(level any) {
	if lvl, ok := level.(logrus.Level); ok {
		log.Logger.SetLevel(lvl)
		log.IsEnabledForDebug = log.IsLevelEnabled(logrus.DebugLevel)
	}
}

func (log *CollectableLogger) SetOutput(out io.Writer) { log.Logger.SetOutput(out) }

type LoggerConfig struct {
	UseJson             bool   `yaml:"use_json"`
	Level               string `yaml:"level"`
	DisableSrcFile      bool   `yaml:"disable_src_file"`
	LogFile             string `yaml:"log_file"`
	LogFileMaxSizeMB    int    `yaml:"log_file_max_size_mb"`
	LogFileMaxBackupNum int    `yaml:"log_file_max_backup_num"`
}

func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		UseJson:             LOGGER_CONFIG_USE_JSON_DEFAULT,
		Level:               LOGGER_CONFIG_LEVEL_DEFAULT,
		DisableSrcFile:      LOGGER_CONFIG_DISABLE_SRC_FILE_DEFAULT,
		LogFile:             LOGGER_CONFIG_LOG_FILE_DEFAULT,
		LogFileMaxSizeMB:    LOGGER_CONFIG_LOG_FILE_MAX_SIZE_MB_DEFAULT,
		LogFileMaxBackupNum: LOGGER_CONFIG_LOG_FILE_MAX_BACKUP_NUM_DEFAULT,
	}
}

// moduleDirPathCache strips the module's own path prefix from logged file
// names so log lines read "internal/worker_pool.go:123" instead of the full absolute
// path.
type moduleDirPathCacheT struct {
	mu         sync.Mutex
	prefixList []string
	keepNDirs  int
}

func (p *moduleDirPathCacheT) addPrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.prefixList {
		if have == prefix {
			return
		}
	}
	p.prefixList = append(p.prefixList, prefix)
	sort.Slice(p.prefixList, func(i, j int) bool {
		return len(p.prefixList[i]) > len(p.prefixList[j])
	})
}

func (p *moduleDirPathCacheT) stripPrefix(filePath string) string {
	p.mu.Lock()
	prefixes := append([]string(nil), p.prefixList...)
	keepNDirs := p.keepNDirs
	p.mu.Unlock()
	for _, prefix := range prefixes {
		if strings.HasPrefix(filePath, prefix) {
			return filePath[len(prefix):]
		}
	}
	comps := strings.Split(filePath, "/")
	keep := keepNDirs + 1
	if keep < 1 {
		keep = 1
	}
	if keep < len(comps) {
		filePath = path.Join(comps[len(comps)-keep:]...)
	}
	return filePath
}

var moduleDirPathCache = &moduleDirPathCacheT{prefixList: []string{}, keepNDirs: 1}

type logFuncFilePair struct {
	function string
	file     string
}

type logFuncFileCacheT struct {
	mu    sync.Mutex
	cache map[uintptr]*logFuncFilePair
}

func (c *logFuncFileCacheT) LogCallerPrettyfier(f *runtime.Frame) (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ff := c.cache[f.PC]
	if ff == nil {
		ff = &logFuncFilePair{
			file: moduleDirPathCache.stripPrefix(f.File) + ":" + itoa(f.Line),
		}
		c.cache[f.PC] = ff
	}
	return ff.function, ff.file
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

var logFuncFileCache = &logFuncFileCacheT{cache: make(map[uintptr]*logFuncFilePair)}

var logFieldKeySortOrder = map[string]int{
	logrus.FieldKeyTime:         -5,
	logrus.FieldKeyLevel:        -4,
	LOGGER_COMPONENT_FIELD_NAME: -3,
	logrus.FieldKeyFile:         -2,
	logrus.FieldKeyFunc:         -1,
	logrus.FieldKeyMsg:          1,
}

type logFieldKeySortable struct{ keys []string }

func (d *logFieldKeySortable) Len() int      { return len(d.keys) }
func (d *logFieldKeySortable) Swap(i, j int) { d.keys[i], d.keys[j] = d.keys[j], d.keys[i] }
func (d *logFieldKeySortable) Less(i, j int) bool {
	a, b := logFieldKeySortOrder[d.keys[i]], logFieldKeySortOrder[d.keys[j]]
	if a != 0 || b != 0 {
		return a < b
	}
	return strings.Compare(d.keys[i], d.keys[j]) < 0
}

func logSortFieldKeys(keys []string) { sort.Sort(&logFieldKeySortable{keys}) }

var logTextFormatter = &logrus.TextFormatter{
	DisableColors:    true,
	FullTimestamp:    true,
	TimestampFormat:  LOGGER_TIMESTAMP_FORMAT,
	CallerPrettyfier: logFuncFileCache.LogCallerPrettyfier,
	SortingFunc:      logSortFieldKeys,
}

var logJsonFormatter = &logrus.JSONFormatter{
	TimestampFormat:  LOGGER_TIMESTAMP_FORMAT,
	CallerPrettyfier: logFuncFileCache.LogCallerPrettyfier,
}

var RootLogger = &CollectableLogger{
	Logger: logrus.Logger{
		Out:          os.Stderr,
		Formatter:    logTextFormatter,
		Level:        LOGGER_DEFAULT_LEVEL,
		ReportCaller: true,
	},
}

func init() {
	_, file, _, ok := runtime.Caller(0)
	if ok {
		prefix := path.Dir(path.Dir(file)) // up from internal/ to the module root
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		moduleDirPathCache.addPrefix(prefix)
	}
}

func NewCompLogger(component string) *logrus.Entry {
	return RootLogger.WithField(LOGGER_COMPONENT_FIELD_NAME, component)
}

// SetLogger applies cfg to RootLogger: level, formatter, caller reporting and
// output (stderr/stdout/file, the latter rotated via lumberjack).
func SetLogger(cfg *LoggerConfig) error {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		RootLogger.SetLevel(level)
	}
	if cfg.UseJson {
		RootLogger.SetFormatter(logJsonFormatter)
	} else {
		RootLogger.SetFormatter(logTextFormatter)
	}
	RootLogger.SetReportCaller(!cfg.DisableSrcFile)

	switch cfg.LogFile {
	case "stderr":
		RootLogger.SetOutput(os.Stderr)
	case "stdout":
		RootLogger.SetOutput(os.Stdout)
	case "":
	default:
		logDir := path.Dir(cfg.LogFile)
		if _, err := os.Stat(logDir); err != nil {
			if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
				return err
			}
		}
		RootLogger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackupNum,
		})
	}
	return nil
}

func GetLogLevelNames() []string {
	names := make([]string, len(logrus.AllLevels))
	for i, l := range logrus.AllLevels {
		names[i] = l.String()
	}
	return names
}
