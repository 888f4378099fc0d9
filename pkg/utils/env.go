package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv 根据环境加载对应的 .env 文件
func LoadEnv(env string) error {
	filename := ".env"
	if env != "" {
		candidate := fmt.Sprintf(".env.%s", strings.ToLower(env))
		if _, err := os.Stat(candidate); err == nil {
			filename = candidate
		}
	}
	return godotenv.Load(filename)
}

// GetEnv 获取环境变量值
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetIntEnv 获取整数环境变量值，解析失败返回0
func GetIntEnv(key string) int64 {
	v := GetEnv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// GetBoolEnv 获取布尔环境变量值
func GetBoolEnv(key string) bool {
	v, _ := strconv.ParseBool(GetEnv(key))
	return v
}

// RandText 生成指定长度的随机十六进制字符串
func RandText(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n)
	}
	return hex.EncodeToString(buf)[:n]
}
