package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if s.cfg.APIToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

func granularityTable(raw string) (string, bool) {
	switch raw {
	case "", "daily":
		return bucketing.IntervalDaily.Table(), true
	case "15min":
		return bucketing.Interval15Min.Table(), true
	case "30min":
		return bucketing.Interval30Min.Table(), true
	case "1hr":
		return bucketing.Interval1Hr.Table(), true
	default:
		return "", false
	}
}

// getUsage serves rollup rows for one subscriber over an inclusive date
// range. An unknown subscriber yields an empty result set, not an
// error.
func (s *Server) getUsage(c *gin.Context) {
	subscriberID := c.Param("subscriber_id")

	table, ok := granularityTable(c.Query("granularity"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "granularity must be one of 15min, 30min, 1hr, daily"})
		return
	}

	start, err := time.Parse(dateLayout, c.DefaultQuery("start_date", "1970-01-01"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	endRaw := c.Query("end_date")
	end := time.Now().UTC()
	if endRaw != "" {
		if end, err = time.Parse(dateLayout, endRaw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		// Inclusive end date: cover the whole final day.
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must not precede start_date"})
		return
	}

	var rows []bucketing.UsageBucket
	err = s.db.WithContext(c.Request.Context()).
		Table(table).
		Where("msisdn = ?", subscriberID).
		Where("interval_start >= ? AND interval_start < ?", start, end).
		Order("interval_start").
		Find(&rows).Error
	if err != nil {
		s.log.Error("usage query failed",
			zap.String("subscriber_id", subscriberID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriber_id": subscriberID,
		"usage":         rows,
	})
}
