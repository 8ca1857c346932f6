package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Financial-Times/annotations-agreement/agreement"
	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/annotations-agreement/forwarder"
	"github.com/Financial-Times/annotations-agreement/schema"
	logger "github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/http-handlers-go/v2/httphandlers"
	"github.com/Financial-Times/kafka-client-go/kafka"
	"github.com/Financial-Times/neo-utils-go/neoutils"
	status "github.com/Financial-Times/service-status-go/httphandlers"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	"github.com/rcrowley/go-metrics"

	_ "github.com/joho/godotenv/autoload"
)

func main() {

	app := cli.App("annotations-agreement", "Inter-annotator agreement and curation documents for annotation projects")
	schemaPath := app.String(cli.StringOpt{
		Name:   "schemaPath",
		Value:  "schema.yaml",
		Desc:   "YAML file describing the annotation layers and tagsets of the project",
		EnvVar: "SCHEMA_PATH",
	})
	store := app.String(cli.StringOpt{
		Name:   "store",
		Value:  "neo4j",
		Desc:   "Where curation documents are kept (neo4j, memory)",
		EnvVar: "CURATION_STORE",
	})
	neoURL := app.String(cli.StringOpt{
		Name:   "neoUrl",
		Value:  "http://localhost:7474/db/data",
		Desc:   "neo4j endpoint URL",
		EnvVar: "NEO_URL",
	})
	port := app.Int(cli.IntOpt{
		Name:   "port",
		Value:  8080,
		Desc:   "Port to listen on",
		EnvVar: "APP_PORT",
	})
	batchSize := app.Int(cli.IntOpt{
		Name:   "batchSize",
		Value:  1024,
		Desc:   "Maximum number of statements to execute per batch",
		EnvVar: "BATCH_SIZE",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "logLevel",
		Value:  "INFO",
		Desc:   "Logging level (DEBUG, INFO, WARN, ERROR)",
		EnvVar: "LOG_LEVEL",
	})
	parallelism := app.Int(cli.IntOpt{
		Name:   "parallelism",
		Value:  4,
		Desc:   "Number of documents processed at once in batch agreement calculations",
		EnvVar: "PARALLELISM",
	})
	excludeIncomplete := app.Bool(cli.BoolOpt{
		Name:   "excludeIncomplete",
		Value:  true,
		Desc:   "Leave positions not every annotator annotated out of agreement studies unless the request says otherwise",
		EnvVar: "EXCLUDE_INCOMPLETE",
	})
	measure := app.String(cli.StringOpt{
		Name:   "measure",
		Value:  agreement.FleissKappaName,
		Desc:   "Default agreement measure (percentage, cohen-kappa, fleiss-kappa, krippendorff-alpha)",
		EnvVar: "AGREEMENT_MEASURE",
	})
	mergeStrategy := app.String(cli.StringOpt{
		Name:   "mergeStrategy",
		Value:  curation.AllAnnotatorsAgreeName,
		Desc:   "Which positions make it into a curation document (all-annotators-agree, agree-among-present)",
		EnvVar: "MERGE_STRATEGY",
	})
	curator := app.String(cli.StringOpt{
		Name:   "curator",
		Value:  "CURATION_USER",
		Desc:   "User the curation documents created from queue messages belong to",
		EnvVar: "CURATOR",
	})
	zookeeperAddress := app.String(cli.StringOpt{
		Name:   "zookeeperAddress",
		Value:  "localhost:2181",
		Desc:   "Address of the zookeeper service",
		EnvVar: "ZOOKEEPER_ADDRESS",
	})
	shouldConsumeMessages := app.Bool(cli.BoolOpt{
		Name:   "shouldConsumeMessages",
		Value:  false,
		Desc:   "Boolean value specifying if this service should consume messages from the specified topic",
		EnvVar: "SHOULD_CONSUME_MESSAGES",
	})
	consumerGroup := app.String(cli.StringOpt{
		Name:   "consumerGroup",
		Desc:   "Kafka consumer group name",
		EnvVar: "CONSUMER_GROUP",
	})
	consumerTopic := app.String(cli.StringOpt{
		Name:   "consumerTopic",
		Value:  "AnnotationFinishedEvents",
		Desc:   "Kafka consumer topic name",
		EnvVar: "CONSUMER_TOPIC",
	})
	brokerAddress := app.String(cli.StringOpt{
		Name:   "brokerAddress",
		Value:  "localhost:9092",
		Desc:   "Kafka address",
		EnvVar: "BROKER_ADDRESS",
	})
	producerTopic := app.String(cli.StringOpt{
		Name:   "producerTopic",
		Value:  "CurationReadyEvents",
		Desc:   "Topic to which curation-ready events are sent",
		EnvVar: "PRODUCER_TOPIC",
	})
	shouldForwardMessages := app.Bool(cli.BoolOpt{
		Name:   "shouldForwardMessages",
		Value:  true,
		Desc:   "Decides if a curation-ready event is sent when a curation document is created",
		EnvVar: "SHOULD_FORWARD_MESSAGES",
	})
	originSystem := app.String(cli.StringOpt{
		Name:   "originSystem",
		Value:  "http://cmdb.ft.com/systems/annotations-agreement",
		Desc:   "Origin-System-Id of the events this service sends for HTTP requests",
		EnvVar: "ORIGIN_SYSTEM_ID",
	})
	appName := app.String(cli.StringOpt{
		Name:   "appName",
		Value:  "annotations-agreement",
		Desc:   "Name of the service",
		EnvVar: "APP_NAME",
	})

	app.Command("diff-export", "Write the classified configuration sets of an annotation bundle as CSV to stdout", func(cmd *cli.Cmd) {
		bundlePath := cmd.StringArg("BUNDLE", "", "JSON file with the annotations of every annotator of a document")
		layer := cmd.StringOpt("layer", "", "Layer to export, all layers when empty")
		feature := cmd.StringOpt("feature", "", "Feature to compare, positions only when empty")
		header := cmd.BoolOpt("header", true, "Write a header row")
		exclude := cmd.BoolOpt("excludeIncomplete", false, "Leave incomplete positions out of the study")

		cmd.Action = func() {
			s, err := schema.Load(*schemaPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				cli.Exit(1)
			}
			registry, err := s.Registry()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				cli.Exit(1)
			}
			f, err := os.Open(*bundlePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				cli.Exit(1)
			}
			defer f.Close()
			bundle, err := decodeBundle(f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "cannot read bundle %s: %v\n", *bundlePath, err)
				cli.Exit(1)
			}
			opts := exportOptions{Layer: *layer, Feature: *feature, Header: *header, ExcludeIncomplete: *exclude}
			if err := exportDiff(os.Stdout, registry, schema.NewTagsetCache(s), bundle, opts); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				cli.Exit(1)
			}
		}
	})

	app.Action = func() {
		logConf := logger.KeyNamesConfig{KeyTime: "@time"}
		log := logger.NewUPPLogger(*appName, *logLevel, logConf)
		log.WithFields(map[string]interface{}{"port": *port, "store": *store, "schema": *schemaPath}).Infof("Service %s has successfully started.", *appName)

		s, err := schema.Load(*schemaPath)
		if err != nil {
			log.WithError(err).Fatal("can't read project schema")
		}
		registry, err := s.Registry()
		if err != nil {
			log.WithError(err).Fatal("can't build diff adapters from project schema")
		}
		if _, err := agreement.MeasureByName(*measure); err != nil {
			log.WithError(err).Fatal("invalid default agreement measure")
		}
		strategy, err := curation.StrategyByName(*mergeStrategy)
		if err != nil {
			log.WithError(err).Fatal("invalid merge strategy")
		}

		curationStore, err := setupCurationStore(*store, *neoURL, *batchSize)
		if err != nil {
			log.WithError(err).Fatal("can't initialise curation store")
		}
		curationService := curation.NewService(curationStore, curation.NewBuilder(strategy, metrics.DefaultRegistry), registry, log)
		healtcheckHandler := healthCheckHandler{store: curationService, appName: *appName}

		httpHandler := httpHandler{
			registry:          registry,
			tagsets:           schema.NewTagsetCache(s),
			calculator:        agreement.NewCalculator(registry, agreement.MapLoader{}, log, *parallelism, metrics.DefaultRegistry),
			curationService:   curationService,
			excludeIncomplete: *excludeIncomplete,
			measure:           *measure,
			originSystem:      *originSystem,
			log:               log,
		}

		var f forwarder.QueueForwarder
		if *shouldForwardMessages {
			p, err := setupMessageProducer(*brokerAddress, *producerTopic)
			if err != nil {
				log.WithError(err).Fatal("can't initialise message producer")
			}
			f = forwarder.Forwarder{Producer: p, MessageType: "curation"}
			httpHandler.forwarder = f
		}

		var qh queueHandler
		if *shouldConsumeMessages {
			var consumer kafka.Consumer
			consumer, err = setupMessageConsumer(*zookeeperAddress, *consumerGroup, *consumerTopic)
			if err != nil {
				log.WithError(err).Fatal("can't initialise message consumer")
			}
			healtcheckHandler.consumer = consumer

			qh = queueHandler{curationService: curationService, consumer: consumer, forwarder: f, curator: *curator, log: log}
			qh.Ingest()
		}

		http.Handle("/", router(&httpHandler, &healtcheckHandler, log))

		go func() {
			err = startServer(*port)
			if err != nil {
				log.WithError(err).Fatal("http server error occurred")
			}
		}()

		waitForSignal()
		if *shouldConsumeMessages {
			log.Infof("Shutting down Kafka consumer")
			qh.consumer.Shutdown()
		}
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("app could not start: %s", err)
		return
	}
}

func setupCurationStore(kind string, neoURL string, batchSize int) (curation.Store, error) {
	switch kind {
	case "memory":
		return curation.NewMemoryStore(), nil
	case "neo4j":
	default:
		return nil, fmt.Errorf("unknown curation store %q", kind)
	}
	conf := neoutils.DefaultConnectionConfig()
	conf.BatchSize = batchSize
	db, err := neoutils.Connect(neoURL, conf)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Neo4j: %w", err)
	}

	store := curation.NewCypherStore(db)
	if err := store.Initialise(); err != nil {
		return nil, fmt.Errorf("curation store has not been initialised correctly: %w", err)
	}
	return store, nil
}

func setupMessageProducer(brokerAddress string, producerTopic string) (kafka.Producer, error) {
	producer, err := kafka.NewProducer(brokerAddress, producerTopic, kafka.DefaultProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("cannot start queue producer: %w", err)
	}
	return producer, nil
}

func setupMessageConsumer(zookeeperAddress string, consumerGroup string, topic string) (kafka.Consumer, error) {
	// discard the output of zookeeper library
	noneLogger := logger.NewUPPInfoLogger("annotations-agreement-kafka-consumer")
	noneLogger.SetOutput(ioutil.Discard)
	groupConfig := kafka.DefaultConsumerConfig()
	groupConfig.Zookeeper.Logger = noneLogger

	config := kafka.Config{
		ZookeeperConnectionString: zookeeperAddress,
		ConsumerGroup:             consumerGroup,
		Topics:                    []string{topic},
		ConsumerGroupConfig:       groupConfig,
	}

	consumer, err := kafka.NewConsumer(config)
	if err != nil {
		return nil, fmt.Errorf("cannot start queue consumer: %w", err)
	}
	return consumer, nil
}

func router(hh *httpHandler, hc *healthCheckHandler, log *logger.UPPLogger) http.Handler {
	servicesRouter := mux.NewRouter()
	servicesRouter.Headers("Content-type: application/json")

	// Then API specific ones:
	servicesRouter.HandleFunc("/documents/{documentId}/diff", hh.PostDiff).Methods("POST")
	servicesRouter.HandleFunc("/documents/{documentId}/agreement/{layer}", hh.PostAgreement).Methods("POST")
	servicesRouter.HandleFunc("/documents/{documentId}/agreement/{layer}/{feature}", hh.PostAgreement).Methods("POST")
	servicesRouter.HandleFunc("/agreement/{layer}", hh.PostBatchAgreement).Methods("POST")
	servicesRouter.HandleFunc("/agreement/{layer}/{feature}", hh.PostBatchAgreement).Methods("POST")
	servicesRouter.HandleFunc("/documents/{documentId}/curation/{user}", hh.GetCuration).Methods("GET")
	servicesRouter.HandleFunc("/documents/{documentId}/curation/{user}", hh.PutCuration).Methods("PUT")
	servicesRouter.HandleFunc("/documents/{documentId}/curation/{user}/recreate", hh.RecreateCuration).Methods("POST")

	servicesRouter.HandleFunc("/__health", hc.Health()).Methods("GET")
	servicesRouter.HandleFunc("/__gtg", status.NewGoodToGoHandler(hc.GTG)).Methods("GET")
	servicesRouter.HandleFunc(status.PingPath, status.PingHandler).Methods("GET")
	servicesRouter.HandleFunc(status.PingPathDW, status.PingHandler).Methods("GET")
	servicesRouter.HandleFunc(status.BuildInfoPath, status.BuildInfoHandler).Methods("GET")
	servicesRouter.HandleFunc(status.BuildInfoPathDW, status.BuildInfoHandler).Methods("GET")

	var monitoringRouter http.Handler = servicesRouter
	monitoringRouter = httphandlers.TransactionAwareRequestLoggingHandler(log, monitoringRouter)
	monitoringRouter = httphandlers.HTTPMetricsHandler(metrics.DefaultRegistry, monitoringRouter)

	return monitoringRouter
}

func startServer(port int) error {
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		return fmt.Errorf("unable to start server: %w", err)
	}
	return nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

// exportOptions select what exportDiff writes.
type exportOptions struct {
	Layer             string
	Feature           string
	Header            bool
	ExcludeIncomplete bool
}

// exportDiff writes the classified sets of a bundle as CSV. Without a layer
// every layer of the registry is written, comparing positions only.
func exportDiff(w io.Writer, registry *diff.Registry, tagsets *schema.TagsetCache, bundle documentBundle, opts exportOptions) error {
	types := registry.Types()
	if opts.Layer != "" {
		types = []string{opts.Layer}
	}
	d, err := diff.Diff(registry, bundle.Annotations, diff.Options{Document: bundle.ref(), Types: types})
	if err != nil {
		return err
	}
	var results []*agreement.FullCodingAgreementResult
	for _, t := range types {
		feature := ""
		if opts.Layer != "" {
			feature = opts.Feature
		}
		res, err := agreement.MakeCodingStudy(d, t, feature, agreement.StudyOptions{
			Tagset:            tagsets.Tags(t, feature),
			ExcludeIncomplete: opts.ExcludeIncomplete,
		})
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	return agreement.WriteCSV(w, results, opts.Header)
}
