package main

import (
	"net/http"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	"github.com/Financial-Times/kafka-client-go/kafka"
	"github.com/Financial-Times/service-status-go/gtg"
)

type storeChecker interface {
	Check() error
}

type healthCheckHandler struct {
	store    storeChecker
	consumer kafka.Consumer
	appName  string
}

func (h healthCheckHandler) Health() func(w http.ResponseWriter, r *http.Request) {
	checks := []fthealth.Check{h.storeCheck()}
	if h.consumer != nil {
		checks = append(checks, h.readQueueCheck())
	}
	hc := fthealth.HealthCheck{
		SystemCode:  h.appName,
		Name:        h.appName,
		Description: "Checks if all the dependent services are reachable and healthy.",
		Checks:      checks,
	}
	return fthealth.Handler(hc)
}

func (h healthCheckHandler) GTG() gtg.Status {
	checks := []gtg.StatusChecker{
		func() gtg.Status {
			return gtgCheck(h.Checker)
		},
	}
	if h.consumer != nil {
		checks = append(checks, func() gtg.Status {
			return gtgCheck(h.checkKafkaConnectivity)
		})
	}
	return gtg.FailFastParallelCheck(checks)()
}

func (h healthCheckHandler) readQueueCheck() fthealth.Check {
	return fthealth.Check{
		ID:               "read-message-queue-reachable",
		Name:             "Read Message Queue Reachable",
		Severity:         1,
		BusinessImpact:   "Finished annotations can't be read from queue. Curation documents will not be created.",
		TechnicalSummary: "Read message queue is not reachable/healthy",
		PanicGuide:       "https://dewey.ft.com/",
		Checker:          h.checkKafkaConnectivity,
	}
}

func (h healthCheckHandler) storeCheck() fthealth.Check {
	return fthealth.Check{
		ID:               "curation-datastore-reachable",
		Name:             "Curation Data Store Reachable",
		Severity:         1,
		BusinessImpact:   "Unable to create or serve curation documents",
		TechnicalSummary: "Cannot connect to the curation document store",
		PanicGuide:       "https://dewey.ft.com/",
		Checker:          h.Checker,
	}
}

func (h healthCheckHandler) checkKafkaConnectivity() (string, error) {
	if err := h.consumer.ConnectivityCheck(); err != nil {
		return "Error connecting with Kafka", err
	}
	return "Successfully connected to Kafka", nil
}

// Checker tests the curation document store.
func (h healthCheckHandler) Checker() (string, error) {
	if err := h.store.Check(); err != nil {
		return "Error connecting to the curation store", err
	}
	return "Connectivity to the curation store is ok", nil
}

func gtgCheck(handler func() (string, error)) gtg.Status {
	if _, err := handler(); err != nil {
		return gtg.Status{GoodToGo: false, Message: err.Error()}
	}
	return gtg.Status{GoodToGo: true}
}
