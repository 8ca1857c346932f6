package main

import (
	"bytes"

	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/forwarder"

	logger "github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/kafka-client-go/kafka"
	transactionidutils "github.com/Financial-Times/transactionid-utils-go"

	"github.com/pkg/errors"
)

// queueHandler consumes annotation-finished messages, each carrying the
// bundle of a document, and makes sure the curation document exists.
type queueHandler struct {
	curationService *curation.Service
	consumer        kafka.Consumer
	forwarder       forwarder.QueueForwarder
	curator         string
	log             *logger.UPPLogger
}

func (qh *queueHandler) Ingest() {
	qh.consumer.StartListening(func(message kafka.FTMessage) error {
		tid, found := message.Headers[transactionidutils.TransactionIDHeader]
		if !found {
			return errors.New("Missing transaction id from message")
		}

		originSystem, found := message.Headers["Origin-System-Id"]
		if !found {
			return errors.New("Missing Origin-System-Id header from message")
		}

		bundle, err := decodeBundle(bytes.NewReader([]byte(message.Body)))
		if err != nil {
			qh.log.WithTransactionID(tid).WithError(err).Error("Cannot process received message")
			return errors.Errorf("Cannot process received message %s", tid)
		}
		if bundle.DocumentID == "" {
			return errors.Errorf("Message %s has no documentId", tid)
		}

		out, err := qh.curationService.Get(curation.Request{
			Document: bundle.ref(),
			Curator:  qh.curator,
			Finished: bundle.finished(),
		})
		if err != nil {
			qh.log.WithMonitoringEvent("CreateCuration", tid, "curation").WithUUID(bundle.DocumentID).WithError(err).Error("Cannot create curation document")
			return errors.Wrapf(err, "Failed to process message with tid=%s and documentId=%s", tid, bundle.DocumentID)
		}
		if !out.Derived {
			qh.log.WithTransactionID(tid).WithUUID(bundle.DocumentID).Debugf("curation document is %s, nothing to do", out.State)
			return nil
		}

		qh.log.WithMonitoringEvent("CreateCuration", tid, "curation").WithUUID(bundle.DocumentID).Infof("curation document for %s created", qh.curator)

		//forward message to the next queue
		if qh.forwarder != nil {
			qh.log.WithTransactionID(tid).WithUUID(bundle.DocumentID).Debug("Forwarding message to the next queue")
			return qh.forwarder.SendMessage(tid, originSystem, nil, forwarder.NewCurationEvent(bundle.ref(), qh.curator, out))
		}
		return nil
	})
}
