package reporting

import (
	"log"
	"time"
)

type Scheduler struct {
	Mailer   *Mailer
	LastSent time.Time
}

func NewScheduler(mailer *Mailer) *Scheduler {
	return &Scheduler{
		Mailer: mailer,
	}
}

func (s *Scheduler) Start() {
	if !s.Mailer.Config.Enabled {
		log.Println("scheduler: email digest disabled in config")
		return
	}

	log.Println("scheduler: started, digest scheduled for Mondays 09:00")

	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for t := range ticker.C {
			s.checkSchedule(t)
		}
	}()
}

func (s *Scheduler) checkSchedule(now time.Time) {
	if now.Weekday() != time.Monday || now.Hour() != 9 {
		return
	}

	// Already sent today; the hour-long window would otherwise re-fire
	// every minute.
	if s.LastSent.Year() == now.Year() && s.LastSent.YearDay() == now.YearDay() {
		return
	}

	log.Println("scheduler: sending weekly digest")
	if err := s.Mailer.SendWeeklyReport(); err != nil {
		// LastSent stays unset so the next tick retries.
		log.Printf("scheduler: digest failed: %v", err)
		return
	}
	s.LastSent = now
}

// TriggerNow sends the digest immediately, outside the schedule.
func (s *Scheduler) TriggerNow() error {
	return s.Mailer.SendWeeklyReport()
}
