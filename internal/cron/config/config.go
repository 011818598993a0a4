package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Outbox recovery sweep, every 30 seconds
	CronScheduleOutboxRecovery string `env:"CRON_SCHEDULE_OUTBOX_RECOVERY" envDefault:"*/30 * * * * *"`
	// Lease name used for leader election when running in kubernetes
	LeaderElectionLease string `env:"CRON_LEADER_ELECTION_LEASE" envDefault:"draftsync-cron-leader"`
}
