package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type jobView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	Progress     int        `json:"progress"`
	ErrorMessage *string    `json:"error_message"`
	WorkerName   string     `json:"worker_name"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
}

type workerView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Endpoint      string    `json:"endpoint"`
	Status        string    `json:"status"`
	Capacity      int       `json:"capacity"`
	CurrentLoad   int       `json:"current_load"`
	Power         int       `json:"power"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

var submitCmd = &cobra.Command{
	Use:   "submit name",
	Short: "Submit a new job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		priority, _ := cmd.Flags().GetString("priority")
		jobType, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		worker, _ := cmd.Flags().GetString("worker")
		retries, _ := cmd.Flags().GetInt("max-retries")
		scheduled, _ := cmd.Flags().GetString("scheduled-start")

		req := map[string]any{
			"name":                args[0],
			"priority":            priority,
			"job_type":            jobType,
			"description":         description,
			"preferred_worker_id": worker,
			"max_retry_attempts":  retries,
		}
		if scheduled != "" {
			t, err := time.Parse(time.RFC3339, scheduled)
			if err != nil {
				log.Fatalf("invalid --scheduled-start, want RFC3339: %v", err)
			}
			req["scheduled_start_time"] = t
		}

		var job jobView
		if err := call(http.MethodPost, "/v1/jobs", req, &job); err != nil {
			log.Fatalf("submit failed: %v", err)
		}
		fmt.Printf("job submitted: %s (%s, %s)\n", job.ID, job.Name, job.Priority)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List all jobs",
	Run: func(cmd *cobra.Command, args []string) {
		var jobs []jobView
		if err := call(http.MethodGet, "/v1/jobs", nil, &jobs); err != nil {
			log.Fatalf("list failed: %v", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPRIORITY\tPROGRESS\tWORKER")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
				j.ID, j.Name, j.Status, j.Priority, j.Progress, j.WorkerName)
		}
		tw.Flush()
	},
}

var jobCmd = &cobra.Command{
	Use:   "job id",
	Short: "Show one job with its execution logs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var job jobView
		if err := call(http.MethodGet, "/v1/jobs/"+args[0], nil, &job); err != nil {
			log.Fatalf("get failed: %v", err)
		}

		fmt.Printf("%s  %s  %s  %d%%\n", job.ID, job.Name, job.Status, job.Progress)
		if job.ErrorMessage != nil {
			fmt.Printf("error: %s\n", *job.ErrorMessage)
		}

		var logs []struct {
			Level     string    `json:"level"`
			Message   string    `json:"message"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := call(http.MethodGet, "/v1/jobs/"+args[0]+"/logs", nil, &logs); err != nil {
			log.Fatalf("logs failed: %v", err)
		}
		for _, l := range logs {
			fmt.Printf("%s [%s] %s\n", l.CreatedAt.Format(time.RFC3339), l.Level, l.Message)
		}
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry id",
	Short: "Retry a failed job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var job jobView
		if err := call(http.MethodPost, "/v1/jobs/"+args[0]+"/retry", nil, &job); err != nil {
			log.Fatalf("retry failed: %v", err)
		}
		fmt.Printf("job requeued: %s (%s)\n", job.ID, job.Status)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop id",
	Short: "Stop a pending or running job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := call(http.MethodPost, "/v1/jobs/"+args[0]+"/stop", nil, nil); err != nil {
			log.Fatalf("stop failed: %v", err)
		}
		fmt.Println("stop requested")
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered worker nodes",
	Run: func(cmd *cobra.Command, args []string) {
		var workers []workerView
		if err := call(http.MethodGet, "/v1/workers", nil, &workers); err != nil {
			log.Fatalf("list failed: %v", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tLOAD\tPOWER\tLAST HEARTBEAT")
		for _, w := range workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				w.ID, w.Name, w.Status, w.CurrentLoad, w.Capacity, w.Power,
				w.LastHeartbeat.Format(time.RFC3339))
		}
		tw.Flush()
	},
}

var registerCmd = &cobra.Command{
	Use:   "register name endpoint",
	Short: "Register a worker node (idempotent by name)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		capacity, _ := cmd.Flags().GetInt("capacity")
		power, _ := cmd.Flags().GetInt("power")

		req := map[string]any{
			"name":     args[0],
			"endpoint": args[1],
			"capacity": capacity,
			"power":    power,
		}
		var worker workerView
		if err := call(http.MethodPost, "/v1/workers", req, &worker); err != nil {
			log.Fatalf("register failed: %v", err)
		}
		fmt.Printf("worker registered: %s (%s)\n", worker.ID, worker.Name)
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat id",
	Short: "Send a heartbeat for a worker node",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := call(http.MethodPost, "/v1/workers/"+args[0]+"/heartbeat", nil, nil); err != nil {
			log.Fatalf("heartbeat failed: %v", err)
		}
		fmt.Println("heartbeat accepted")
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth per priority tier",
	Run: func(cmd *cobra.Command, args []string) {
		var stats struct {
			Total      int            `json:"total"`
			ByPriority map[string]int `json:"by_priority"`
		}
		if err := call(http.MethodGet, "/v1/queue", nil, &stats); err != nil {
			log.Fatalf("queue failed: %v", err)
		}

		fmt.Printf("total queued: %d\n", stats.Total)
		for _, tier := range []string{"immediate", "critical", "urgent", "high", "regular", "low", "deferred"} {
			fmt.Printf("  %-9s %d\n", tier, stats.ByPriority[tier])
		}
	},
}

func init() {
	submitCmd.Flags().String("priority", "regular", "job priority (critical|urgent|high|regular|low|deferred)")
	submitCmd.Flags().String("type", "", "free-form job type tag")
	submitCmd.Flags().String("description", "", "job description")
	submitCmd.Flags().String("worker", "", "preferred worker node id")
	submitCmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	submitCmd.Flags().String("scheduled-start", "", "defer start until this RFC3339 time")

	registerCmd.Flags().Int("capacity", 5, "max concurrent jobs")
	registerCmd.Flags().Int("power", 5, "throughput rating 1-10")
}
