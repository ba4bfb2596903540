package tasksched_internal

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/huandu/go-clone"
)

type loadConfigTestCase struct {
	name string
	data string
	want func() *TaskSchedConfig
}

func TestLoadConfig(t *testing.T) {
	testCases := []loadConfigTestCase{
		{
			name: "empty document falls back to defaults",
			data: "",
			want: DefaultTaskSchedConfig,
		},
		{
			name: "partial scheduler_config overrides only named fields",
			data: `
scheduler_config:
  foreground:
    initial_max_tasks: 9
  all_tasks_user_blocking: true
`,
			want: func() *TaskSchedConfig {
				cfg := clone.Clone(DefaultTaskSchedConfig()).(*TaskSchedConfig)
				cfg.SchedulerConfig.Foreground.InitialMaxTasks = 9
				cfg.SchedulerConfig.AllTasksUserBlocking = true
				return cfg
			},
		},
		{
			name: "log_config section overrides logger defaults",
			data: `
log_config:
  level: debug
  use_json: true
`,
			want: func() *TaskSchedConfig {
				cfg := clone.Clone(DefaultTaskSchedConfig()).(*TaskSchedConfig)
				cfg.LoggerConfig.Level = "debug"
				cfg.LoggerConfig.UseJson = true
				return cfg
			},
		},
		{
			name: "heartbeat interval overrides the default",
			data: `
scheduler_config:
  heartbeat:
    interval: 5000000000
`,
			want: func() *TaskSchedConfig {
				cfg := clone.Clone(DefaultTaskSchedConfig()).(*TaskSchedConfig)
				cfg.SchedulerConfig.Heartbeat.Interval = 5 * time.Second
				return cfg
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadConfig("", []byte(tc.data))
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			want := tc.want()
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("LoadConfig result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
