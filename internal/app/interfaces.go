package app

import (
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/MatheusHenriquePires/S-crm/config"
)

// Narrow views of the application container, so components depend on the
// capability they need instead of the whole Application.

type DBProvider interface {
	DB() *gorm.DB
}

type ConfigProvider interface {
	Config() *config.AppConfig
}

type SchedulerProvider interface {
	Scheduler() *cron.Cron
}
