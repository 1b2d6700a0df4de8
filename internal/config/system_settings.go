package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "CFLOW_DATABASE_TYPE"
const DATABASE_URL = "CFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "CFLOW_DATABASE_SQLLITE_FILE_NAME"
const NATS_URL = "CFLOW_NATS_URL"
const SERVER_WEB_PORT = "CFLOW_SERVER_WEB_PORT"
const API_TOKEN = "CFLOW_API_TOKEN"
const CHAIN_RPC_URL = "CFLOW_CHAIN_RPC_URL"
const CHAIN_ID = "CFLOW_CHAIN_ID"                                   //scope portion of the broker topics this node serves
const WORKER_GROUP = "CFLOW_WORKER_GROUP"                           //durable consumer group shared by workers of one partition
const WORKER_PREFETCH = "CFLOW_WORKER_PREFETCH"                     //max unacknowledged in-flight messages per worker
const WORKER_SEQUENCE_NUMBER = "CFLOW_WORKER_SEQUENCE_NUMBER"       //per chain sequence number, guards double consumers
const WORKER_RESTART_INTERVAL = "CFLOW_WORKER_RESTART_INTERVAL"     //bounded wall clock lifetime before a drain and exit
const WORKER_ACK_WAIT = "CFLOW_WORKER_ACK_WAIT"                     //broker redelivery window for unacknowledged messages
const STUCK_STEPS_INTERVAL = "CFLOW_STUCK_STEPS_INTERVAL"           //how often the worker scans for stuck step records
const STUCK_STEPS_AFTER_MINUTES = "CFLOW_STUCK_STEPS_AFTER_MINUTES" //age after which an inProgress step counts as stuck

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == NATS_URL {
		return "nats://127.0.0.1:4222"
	}
	if settingKey == CHAIN_ID {
		return "2000"
	}
	if settingKey == WORKER_GROUP {
		return "default"
	}
	if settingKey == WORKER_PREFETCH {
		return "5"
	}
	if settingKey == WORKER_SEQUENCE_NUMBER {
		return "1"
	}
	if settingKey == WORKER_RESTART_INTERVAL {
		return "8h"
	}
	if settingKey == WORKER_ACK_WAIT {
		return "60s"
	}
	if settingKey == STUCK_STEPS_INTERVAL {
		return "60s"
	}
	if settingKey == STUCK_STEPS_AFTER_MINUTES {
		return "15"
	}
	if settingKey == SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./chainflow.db"
	}
	return ""
}
