package app

import (
	"time"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedClearExpireData removes aged webhook and message rows.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	wdays := a.ConfigMgr().GetInt("webhook", "HistoryDays")
	if wdays == 0 {
		wdays = 30
	}
	a.gormDB.
		Where("status = ? AND created_at < ?", domain.WebhookStatusSent,
			time.Now().Add(-time.Hour*24*time.Duration(wdays))).
		Delete(&domain.WebhookEvent{})

	mdays := a.ConfigMgr().GetInt("message", "HistoryDays")
	if mdays == 0 {
		mdays = 90
	}
	a.gormDB.
		Where("created_at < ? ", time.Now().
			Add(-time.Hour*24*time.Duration(mdays))).Delete(&domain.Message{})
}
