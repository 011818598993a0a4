package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	cron_config "github.com/customeros/draftsync/internal/cron/config"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/orchestrator"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type mockRecoverer struct {
	mock.Mock
}

func (m *mockRecoverer) Recover(ctx context.Context) (orchestrator.RecoveryReport, error) {
	args := m.Called()
	return args.Get(0).(orchestrator.RecoveryReport), args.Error(1)
}

func defaultConfig() *cron_config.Config {
	return &cron_config.Config{
		CronScheduleHeartbeat:      "0 * * * * *",
		CronScheduleOutboxRecovery: "*/30 * * * * *",
		LeaderElectionLease:        "draftsync-cron-leader",
	}
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := defaultConfig()
	log := logger.NewNopAppLogger()
	k8s := &mockKubernetesInterface{}

	// Act
	cm := NewCronManager(cfg, log, k8s, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartCronRegistersJobs(t *testing.T) {
	cm := NewCronManager(defaultConfig(), logger.NewNopAppLogger(), nil, &mockRecoverer{})

	require.NoError(t, cm.StartCron())
	defer cm.Stop()

	assert.Contains(t, cm.jobIDs, "heartbeat")
	assert.Contains(t, cm.jobIDs, "outbox_recovery")
	assert.Len(t, cm.cron.Entries(), 2)
}

func TestCronManager_StartCronRejectsBadSchedule(t *testing.T) {
	cfg := defaultConfig()
	cfg.CronScheduleOutboxRecovery = "not a schedule"
	cm := NewCronManager(cfg, logger.NewNopAppLogger(), nil, &mockRecoverer{})

	assert.Error(t, cm.StartCron())
	assert.Nil(t, cm.cron)
}

func TestCronManager_RecoveryNeedsRecoverer(t *testing.T) {
	cm := NewCronManager(defaultConfig(), logger.NewNopAppLogger(), nil, nil)

	require.NoError(t, cm.StartCron())
	defer cm.Stop()

	assert.NotContains(t, cm.jobIDs, "outbox_recovery")
}

func TestCronManager_RecoverOutbox(t *testing.T) {
	recoverer := &mockRecoverer{}
	recoverer.On("Recover").Return(orchestrator.RecoveryReport{RecoveredLeases: 1}, nil).Once()
	recoverer.On("Recover").Return(orchestrator.RecoveryReport{}, assert.AnError).Once()
	cm := NewCronManager(defaultConfig(), logger.NewNopAppLogger(), nil, recoverer)

	cm.recoverOutbox()
	cm.recoverOutbox()

	recoverer.AssertNumberOfCalls(t, "Recover", 2)
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cm := NewCronManager(defaultConfig(), logger.NewNopAppLogger(), nil, nil)
	require.NoError(t, cm.Start("pod", "default"))

	// Act
	cm.Stop()
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
	assert.Nil(t, cm.cron)
}
