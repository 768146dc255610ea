package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "CFLOW_DATABASE_TYPE"
const DATABASE_URL = "CFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "CFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "CFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_DRAIN_INTERVAL = "CFLOW_ENGINE_DRAIN_INTERVAL"
const ENGINE_STUCK_TASKS_INTERVAL = "CFLOW_ENGINE_STUCK_TASKS_INTERVAL"
const ENGINE_STUCK_TASKS_AFTER_MINUTES = "CFLOW_ENGINE_STUCK_TASKS_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "CFLOW_ENGINE_BATCH_SIZE"       //number of due tasks to pull from the database at a time
const ENGINE_EXECUTOR_SIZE = "CFLOW_ENGINE_EXECUTOR_SIZE" //number of task workers ie the parallel nature of the drain
const API_KEY_HASH = "CFLOW_API_KEY_HASH"                 //bcrypt hash of the API key; empty disables auth
const REENGAGEMENT_MESSAGE = "CFLOW_REENGAGEMENT_MESSAGE"

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
	if settingKey == ENGINE_DRAIN_INTERVAL {
		return "5s"
	}
	if settingKey == ENGINE_STUCK_TASKS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_STUCK_TASKS_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "10"
	}
	if settingKey == ENGINE_EXECUTOR_SIZE {
		return "5"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./convoflow.db"
	}
	if settingKey == REENGAGEMENT_MESSAGE {
		return "Hi! Just checking in - are you still there?"
	}
	return ""
}
