package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	units "github.com/docker/go-units"
	"github.com/kolonialno/build-worker/cmd/internal"
	"github.com/kolonialno/build-worker/pkg"
	"github.com/kolonialno/build-worker/pkg/builder"
	"github.com/kolonialno/build-worker/pkg/cleanup"
	"github.com/kolonialno/build-worker/pkg/debug"
	"github.com/kolonialno/build-worker/pkg/docker"
	"github.com/kolonialno/build-worker/pkg/lock"
	"github.com/kolonialno/build-worker/pkg/logstore"
	"github.com/kolonialno/build-worker/pkg/publisher"
	"github.com/kolonialno/build-worker/pkg/queue"
	"github.com/oklog/oklog/pkg/group"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	internal.StringFlag(runCmd, "debugAddr", "HTTP debug server listen address", ":9001")
	internal.BoolFlag(runCmd, "jsonLogging", "log output as json", true)
	internal.StringFlag(runCmd, "logLevel", "log level", "info")

	internal.StringFlag(runCmd, "sqsQueueURL", "URL of the SQS queue holding build jobs", "")
	internal.StringFlag(runCmd, "awsRegion", "AWS region, defaults to the environment", "")
	internal.StringFlag(runCmd, "awsAccessKeyID", "static AWS access key, defaults to the credential chain", "")
	internal.StringFlag(runCmd, "awsSecretAccessKey", "static AWS secret key", "")
	internal.DurationFlag(runCmd, "pollWait", "long poll duration of a receive call, whole seconds between 1s and 20s", queue.DefaultPollWait)
	internal.DurationFlag(runCmd, "pollInterval", "pause after an empty poll", queue.DefaultPollInterval)
	internal.DurationFlag(runCmd, "visibilityTimeout", "time a received job stays hidden from other workers, extended while it runs", queue.DefaultVisibilityTimeout)

	internal.StringFlag(runCmd, "storageDriver", "artifact storage backend (s3 or gcs)", publisher.DriverS3)
	internal.StringFlag(runCmd, "bucket", "artifact bucket", "")
	internal.StringFlag(runCmd, "s3Endpoint", "custom S3 endpoint, enables path style addressing", "")
	internal.StringFlag(runCmd, "gcsCredentialsFile", "Google Cloud service account file", "")
	internal.Int64Flag(runCmd, "uploadConcurrency", "number of files uploaded at once", publisher.DefaultBatchSize)

	internal.StringFlag(runCmd, "builderImage", "image build containers are created from", "build-worker:latest")
	internal.StringFlag(runCmd, "workspaceRoot", "directory repositories are cloned into", builder.DefaultWorkspaceRoot)
	internal.StringFlag(runCmd, "containerMemory", "memory limit of a build container", "2g")
	internal.Float64Flag(runCmd, "containerCPUs", "CPU limit of a build container", 1.5)
	internal.StringFlag(runCmd, "containerNetwork", "network mode of a build container", "bridge")
	internal.StringFlag(runCmd, "installCommand", "dependency install command", strings.Join(builder.DefaultInstallCommand, " "))
	internal.StringFlag(runCmd, "buildRunner", "command the build script name is appended to", strings.Join(builder.DefaultBuildRunner, " "))

	internal.StringFlag(runCmd, "dockerHost", "Docker daemon listen address", "")
	internal.StringFlag(runCmd, "dockerAPIVersion", "Docker API version, negotiated when empty", "")
	internal.StringFlag(runCmd, "dockerCertFile", "Docker certificate path", "")
	internal.StringFlag(runCmd, "dockerKeyFile", "Docker certificate key path", "")
	internal.StringFlag(runCmd, "dockerCAFile", "Docker CA certificate path", "")

	internal.StringFlag(runCmd, "databaseURL", "Postgres connection string, build logs are discarded when empty", "")
	internal.StringFlag(runCmd, "logTable", "table holding the build records", logstore.DefaultTable)
	internal.StringFlag(runCmd, "logIDColumn", "column matching the job id", logstore.DefaultIDColumn)
	internal.StringFlag(runCmd, "logColumn", "column receiving the build log", logstore.DefaultColumn)

	internal.StringFlag(runCmd, "redisAddr", "Redis address used for job locks, jobs are not locked when empty", "")
	internal.StringFlag(runCmd, "redisPassword", "Redis password", "")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the build worker",
	Long:  "Polls the build queue and runs each job inside an isolated container.",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return internal.CheckFlags(
			internal.RequireString("debugAddr"),
			internal.RequireString("sqsQueueURL"),
			internal.RequireString("bucket"),
			internal.RequireString("builderImage"),
			internal.RequireOneOf("storageDriver", publisher.DriverS3, publisher.DriverGCS),

			internal.RequireDurationRange("pollWait", time.Second, queue.MaxPollWait),
			internal.RequirePositive("pollInterval"),
			internal.RequireDurationRange("visibilityTimeout", time.Second, queue.MaxVisibilityTimeout),
			internal.RequirePositive("uploadConcurrency"),
			internal.RequirePositive("containerCPUs"),
		)
	},
	RunE: func(_ *cobra.Command, args []string) error {

		var debugAddr, logLevel string
		var jsonLogging bool
		var sqsQueueURL, awsRegion, awsAccessKeyID, awsSecretAccessKey string
		var pollWait, pollInterval, visibilityTimeout time.Duration
		var storageDriver, bucket, s3Endpoint, gcsCredentialsFile string
		var uploadConcurrency int64
		var builderImage, workspaceRoot, containerMemory, containerNetwork string
		var containerCPUs float64
		var installCommand, buildRunner string
		var dockerHost, dockerAPIVersion, dockerCertFile, dockerKeyFile, dockerCAFile string
		var databaseURL, logTable, logIDColumn, logColumn string
		var redisAddr, redisPassword string
		{
			debugAddr = viper.GetString("debugAddr")
			jsonLogging = viper.GetBool("jsonLogging")
			logLevel = viper.GetString("logLevel")

			sqsQueueURL = viper.GetString("sqsQueueURL")
			awsRegion = viper.GetString("awsRegion")
			awsAccessKeyID = viper.GetString("awsAccessKeyID")
			awsSecretAccessKey = viper.GetString("awsSecretAccessKey")
			pollWait = viper.GetDuration("pollWait")
			pollInterval = viper.GetDuration("pollInterval")
			visibilityTimeout = viper.GetDuration("visibilityTimeout")

			storageDriver = viper.GetString("storageDriver")
			bucket = viper.GetString("bucket")
			s3Endpoint = viper.GetString("s3Endpoint")
			gcsCredentialsFile = viper.GetString("gcsCredentialsFile")
			uploadConcurrency = viper.GetInt64("uploadConcurrency")

			builderImage = viper.GetString("builderImage")
			workspaceRoot = viper.GetString("workspaceRoot")
			containerMemory = viper.GetString("containerMemory")
			containerCPUs = viper.GetFloat64("containerCPUs")
			containerNetwork = viper.GetString("containerNetwork")
			installCommand = viper.GetString("installCommand")
			buildRunner = viper.GetString("buildRunner")

			dockerHost = viper.GetString("dockerHost")
			dockerAPIVersion = viper.GetString("dockerAPIVersion")
			dockerCertFile = viper.GetString("dockerCertFile")
			dockerKeyFile = viper.GetString("dockerKeyFile")
			dockerCAFile = viper.GetString("dockerCAFile")

			databaseURL = viper.GetString("databaseURL")
			logTable = viper.GetString("logTable")
			logIDColumn = viper.GetString("logIDColumn")
			logColumn = viper.GetString("logColumn")

			redisAddr = viper.GetString("redisAddr")
			redisPassword = viper.GetString("redisPassword")
		}

		ctx := context.Background()

		// Initialize metrics
		jobDurationSeconds := prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "build_worker",
			Subsystem: "builder",
			Name:      "job_duration_seconds",
			Help:      "Build step duration in seconds.",
		}, []string{"operation"})
		prometheus.Register(jobDurationSeconds) // nolint: errcheck, gas

		jobCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "build_worker",
			Subsystem: "builder",
			Name:      "jobs_total",
			Help:      "Executed build jobs per outcome",
		}, []string{"outcome"})
		prometheus.Register(jobCounter) // nolint: errcheck

		uploadCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "build_worker",
			Subsystem: "publisher",
			Name:      "uploaded_files_total",
			Help:      "Uploaded artifact files per result",
		}, []string{"result"})
		prometheus.Register(uploadCounter) // nolint: errcheck

		messageCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "build_worker",
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Received queue messages per result",
		}, []string{"result"})
		prometheus.Register(messageCounter) // nolint: errcheck

		logWriteSeconds := prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "build_worker",
			Subsystem: "logstore",
			Name:      "write_duration_seconds",
			Help:      "Build log write duration in seconds",
		}, []string{"operation"})
		prometheus.Register(logWriteSeconds) // nolint: errcheck

		cleanupCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "build_worker",
			Subsystem: "cleanup",
			Name:      "removed_total",
			Help:      "Removed build leftovers per kind",
		}, []string{"kind"})
		prometheus.Register(cleanupCounter) // nolint: errcheck

		// Log output as json
		if jsonLogging {
			log.SetFormatter(&log.JSONFormatter{})
		}

		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		log.SetLevel(level)

		// Initialize logger
		logger := log.WithFields(log.Fields{
			"app": pkg.App.Name,
		})

		// Container resource limits
		memory, err := units.RAMInBytes(containerMemory)
		if err != nil {
			return errors.Wrap(err, "invalid container memory")
		}
		nanoCPUs := int64(containerCPUs * 1e9)

		// Load the AWS configuration (region and credentials from the environment by default)
		var awsOpts []func(*config.LoadOptions) error
		if awsRegion != "" {
			awsOpts = append(awsOpts, config.WithRegion(awsRegion))
		}
		if awsAccessKeyID != "" && awsSecretAccessKey != "" {
			awsOpts = append(awsOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(awsAccessKeyID, awsSecretAccessKey, ""),
			))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return errors.Wrap(err, "could not load aws config")
		}

		// Setup the artifact publisher
		uploader, err := publisher.NewUploader(ctx, logger.WithField("component", "uploader"), &publisher.UploaderOpts{
			Driver:             storageDriver,
			AWSConfig:          awsConfig,
			S3Endpoint:         s3Endpoint,
			GCSCredentialsFile: gcsCredentialsFile,
		})
		if err != nil {
			return errors.Wrap(err, "could not create the artifact uploader")
		}

		artifactPublisher, err := publisher.New(logger.WithField("component", "publisher"), uploader, &publisher.Options{
			BatchSize:     int(uploadConcurrency),
			UploadCounter: uploadCounter,
		})
		if err != nil {
			return err
		}

		// Setup docker interface
		dockerController, err := docker.New(logger.WithField("component", "docker"), &docker.Config{
			Host:       dockerHost,
			APIVersion: dockerAPIVersion,
			CertFile:   dockerCertFile,
			KeyFile:    dockerKeyFile,
			CACertFile: dockerCAFile,
		})
		if err != nil {
			return errors.Wrap(err, "could not create the docker client")
		}

		// Setup the build log store
		var logStore logstore.Store = logstore.Discard{}
		if databaseURL != "" {
			var db *sql.DB
			logStore, db, err = logstore.NewPostgres(ctx, logger.WithField("component", "logstore"), databaseURL, &logstore.Options{
				Table:        logTable,
				IDColumn:     logIDColumn,
				Column:       logColumn,
				WriteSeconds: logWriteSeconds,
			})
			if err != nil {
				return errors.Wrap(err, "could not connect to the log database")
			}
			defer db.Close() // nolint: errcheck
		} else {
			logger.Warn("no database configured, build logs are discarded")
		}

		// Setup the job lock. One process runs one job at a time, so without
		// Redis there is nothing to exclude and jobs run unlocked.
		var locker lock.Locker = lock.Noop{}
		if redisAddr == "" {
			logger.Warn("no redis configured, jobs are not locked across workers")
		} else {
			redisClient, err := lock.Connect(ctx, redisAddr, redisPassword)
			if err != nil {
				return err
			}
			defer redisClient.Close() // nolint: errcheck

			locker = lock.NewRedis(redisClient)
		}

		// Setup a new builder
		builderController, err := builder.New(logger.WithField("component", "builder"), &builder.Options{
			Docker:    dockerController,
			Publisher: artifactPublisher,
			LogStore:  logStore,

			Bucket:        bucket,
			Image:         builderImage,
			WorkspaceRoot: workspaceRoot,

			Memory:      memory,
			NanoCPUs:    nanoCPUs,
			NetworkMode: containerNetwork,

			InstallCommand: strings.Fields(installCommand),
			BuildRunner:    strings.Fields(buildRunner),

			RuntimeSummary: jobDurationSeconds,
			JobCounter:     jobCounter,
		})
		if err != nil {
			return errors.Wrap(err, "could not create the builder")
		}

		// Setup the queue consumer
		consumer, err := queue.New(logger.WithField("component", "queue"), sqs.NewFromConfig(awsConfig), &queue.Options{
			QueueURL:          sqsQueueURL,
			PollWait:          pollWait,
			VisibilityTimeout: visibilityTimeout,
			PollInterval:      pollInterval,

			Executor: builderController,
			Locker:   locker,

			MessageCounter: messageCounter,
		})
		if err != nil {
			return errors.Wrap(err, "could not create the queue consumer")
		}

		// Setup debugserver http handers
		debugHandler, err := debug.New(consumer.Ready)
		if err != nil {
			return err
		}

		//
		// Run each component as a separate goroutine (With the oklog/group package)
		//

		var g group.Group
		{
			// Queue consumer
			g.Add(consumer.Runnable())
		}
		{
			// Cleanup worker, requires a runtime able to list its containers
			if runtime, ok := dockerController.(cleanup.Runtime); ok {
				// Containers of jobs that may still be running are never removed
				cleanupWorker, err := cleanup.New(logger.WithField("component", "cleanup"), runtime, &cleanup.Options{
					ContainerLifetime: max(cleanup.ContainerLifetime, 2*visibilityTimeout),
					RemovedCounter:    cleanupCounter,
				})
				if err != nil {
					return errors.Wrap(err, "could not create the cleanup worker")
				}

				g.Add(cleanupWorker.Runnable())
			}
		}
		{
			// HTTP debug server
			debugListener, err := net.Listen("tcp", debugAddr)
			if err != nil {
				return errors.Wrap(err, "could not create listener")
			}

			g.Add(func() error {
				server := http.Server{
					Handler:      debugHandler,
					WriteTimeout: 10 * time.Second,
					ReadTimeout:  10 * time.Second,
				}
				return server.Serve(debugListener)
			}, func(err error) {
				debugListener.Close() // nolint: errcheck, gas
			})
		}
		{
			// Listen on interrupts
			cancelInterrupt := make(chan struct{})
			g.Add(func() error {
				c := make(chan os.Signal, 1)
				signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
				select {
				case sig := <-c:
					logger.Errorf("received signal %s", sig)
					return nil
				case <-cancelInterrupt:
					return nil
				}
			}, func(error) {
				close(cancelInterrupt)
			})
		}

		return g.Run()

	},
}
