package main

import (
	"context"
	"flag"

	"labcrm/internal/config"
	"labcrm/internal/database"
	"labcrm/internal/models"
	"labcrm/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// 补充索引：AutoMigrate 之外的组合索引
var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_rules_trigger_status ON automation_rules(trigger_type, status)",
	"CREATE INDEX IF NOT EXISTS idx_executions_rule_started ON automation_executions(rule_id, started_at)",
	"CREATE INDEX IF NOT EXISTS idx_pending_status_execute_at ON automation_pending_actions(status, execute_at)",
	"CREATE INDEX IF NOT EXISTS idx_quotations_valid_until ON quotations(valid_until)",
	"CREATE INDEX IF NOT EXISTS idx_contracts_end_date ON contracts(end_date)",
	"CREATE INDEX IF NOT EXISTS idx_studies_due_date ON studies(due_date)",
	"CREATE INDEX IF NOT EXISTS idx_leads_next_follow_up ON leads(next_follow_up_at)",
}

func main() {
	configFile := flag.String("config", "", "config file (default is ./config.yml)")
	seed := flag.Bool("seed", false, "create the admin user and install built-in automation templates")
	flag.Parse()

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	log := logrus.StandardLogger()

	db, err := database.Open(cfg, log)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Info("Starting database migration...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}
	log.Info("Creating additional indexes...")
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			log.Warnf("index: %v", err)
		}
	}

	if *seed {
		log.Info("Seeding default data...")
		if err := seedDefaultData(context.Background(), db, log); err != nil {
			log.Fatalf("Failed to seed: %v", err)
		}
	}
	log.Info("Migration process completed!")
}

func seedDefaultData(ctx context.Context, db *gorm.DB, log *logrus.Logger) error {
	admin := models.User{
		Username: "admin",
		Email:    "admin@labcrm.local",
		Name:     "Administrator",
		Role:     "admin",
		Status:   "active",
	}
	if err := db.WithContext(ctx).Where(models.User{Username: "admin"}).FirstOrCreate(&admin).Error; err != nil {
		return err
	}

	svc := services.NewAutomationService(db, log)
	installed, err := svc.Catalog().InstallSystemTemplates(ctx, admin.ID)
	if err != nil {
		return err
	}
	log.Infof("Installed %d system automation rule(s)", len(installed))
	return nil
}
