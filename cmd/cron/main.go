package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/conf"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 验证配置
	if err := bc.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	// 初始化应用
	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 权益全量对账 - 每天凌晨 3 点执行
	_, err = cronScheduler.AddFunc("0 0 3 * * *", func() {
		log.Println("[CRON] Starting entitlement reconcile sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		var (
			cursor  string
			scanned int
			fixed   int
			errs    int
		)
		for {
			result, err := app.reconcileUsecase.RunBatch(ctx, biz.BatchOptions{
				Cursor: cursor,
				DryRun: false,
			})
			if err != nil {
				log.Printf("[CRON] Error running reconcile batch (cursor=%s): %v", cursor, err)
				break
			}

			scanned += result.Scanned
			fixed += result.Fixed
			errs += result.ErrorsCount
			for _, fix := range result.SampleFixes {
				log.Printf("[CRON] Fixed entitlement: user=%s, %s/%s -> %s/%s (source=%s)",
					fix.Email, fix.Before.Tier, fix.Before.Status, fix.After.Tier, fix.After.Status, fix.ProviderUsed)
			}
			for _, e := range result.SampleErrors {
				log.Printf("[CRON] Reconcile error: user=%s, error=%s", e.Email, e.Message)
			}

			if !result.HasMore {
				break
			}
			cursor = result.NextCursor

			if ctx.Err() != nil {
				log.Printf("[CRON] Sweep deadline reached, resuming next night from cursor=%s", cursor)
				break
			}
		}

		log.Printf("[CRON] Sweep completed: scanned=%d, fixed=%d, errors=%d", scanned, fixed, errs)
		log.Println("[CRON] Finished entitlement reconcile sweep")
	})
	if err != nil {
		log.Printf("Failed to add reconcile sweep job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Println("  - Entitlement sweep:  Every day at 03:00")
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
