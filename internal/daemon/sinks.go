package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/controller/history"
	"github.com/nerrad567/houseflow-core/internal/controller/lighthouse"
	"github.com/nerrad567/houseflow-core/internal/controller/mqttbridge"
	"github.com/nerrad567/houseflow-core/internal/controller/presence"
	"github.com/nerrad567/houseflow-core/internal/controller/telemetry"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/database"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/houseflow-core/internal/session"
	"github.com/nerrad567/houseflow-core/migrations"
)

// errUplinkDown is reported by the uplink health check while the hub has
// no session with its server.
var errUplinkDown = errors.New("uplink not connected")

// connectSinks opens every enabled sink and registers its controller.
// A sink that is enabled but unreachable fails startup.
func (d *daemon) connectSinks(ctx context.Context, late *lateProvider) error {
	if d.cfg.History.Enabled {
		if err := d.openHistory(ctx); err != nil {
			return err
		}
	} else {
		d.log.Info("history disabled")
	}

	if d.cfg.InfluxDB.Enabled {
		if err := d.connectInfluxDB(ctx); err != nil {
			return err
		}
	} else {
		d.log.Info("InfluxDB disabled")
	}

	if d.cfg.MQTT.Enabled {
		if err := d.connectMQTT(late); err != nil {
			return err
		}
	} else {
		d.log.Info("MQTT disabled")
	}

	if d.cfg.Redis.Enabled {
		if err := d.connectRedis(ctx); err != nil {
			return err
		}
	} else {
		d.log.Info("presence disabled")
	}

	return nil
}

func (d *daemon) openHistory(ctx context.Context) error {
	db, err := database.Open(d.cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	d.addCloser("database", db.Close)
	d.log.Info("database connected", "path", d.cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	d.log.Info("database migrations complete")

	ctrl := history.New(history.NewRepository(db.DB), history.Options{
		Retention:     time.Duration(d.cfg.History.Retention) * time.Hour,
		PruneInterval: time.Duration(d.cfg.History.PruneInterval) * time.Minute,
		Logger:        d.log,
	})
	d.controllers = append(d.controllers, ctrl)
	d.addRunner(history.Name, ctrl.Run)
	d.history = ctrl
	d.database = db
	d.checks["database"] = db
	return nil
}

func (d *daemon) connectInfluxDB(ctx context.Context) error {
	client, err := influxdb.Connect(ctx, d.cfg.InfluxDB, d.log)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	d.addCloser("InfluxDB connection", client.Close)
	d.log.Info("InfluxDB connected",
		"url", d.cfg.InfluxDB.URL,
		"org", d.cfg.InfluxDB.Org,
		"bucket", d.cfg.InfluxDB.Bucket,
	)

	ctrl := telemetry.New(client, d.log)
	d.controllers = append(d.controllers, ctrl)
	d.addRunner(telemetry.Name, ctrl.Run)
	d.checks["influxdb"] = client
	return nil
}

func (d *daemon) connectMQTT(late *lateProvider) error {
	client, err := mqtt.Connect(d.cfg.MQTT, d.log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	d.addCloser("MQTT connection", client.Close)
	d.log.Info("MQTT ready",
		"broker", fmt.Sprintf("%s:%d", d.cfg.MQTT.Broker.Host, d.cfg.MQTT.Broker.Port),
		"client_id", d.cfg.MQTT.Broker.ClientID,
	)

	bridge := mqttbridge.New(mqttbridge.Options{
		Broker:         client,
		QoS:            byte(d.cfg.MQTT.QoS),
		Provider:       late,
		CommandTimeout: d.cfg.WebSocket.GetCallTimeout(),
		Logger:         d.log,
	})
	d.controllers = append(d.controllers, bridge)
	d.addRunner(mqttbridge.Name, bridge.Run)
	d.checks["mqtt"] = client
	return nil
}

func (d *daemon) connectRedis(ctx context.Context) error {
	rdb, err := presence.Connect(ctx, d.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	d.addCloser("Redis connection", rdb.Close)
	d.log.Info("Redis connected", "key_prefix", d.cfg.Redis.KeyPrefix)

	ctrl := presence.New(presence.NewRedisStore(rdb, d.cfg.Redis.KeyPrefix), d.log)
	d.controllers = append(d.controllers, ctrl)
	d.addRunner(presence.Name, ctrl.Run)
	d.checks["redis"] = checkFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return nil
}

// startUplink registers the lighthouse controller that links this hub to
// its server.
func (d *daemon) startUplink(late *lateProvider) error {
	hubID, err := uuid.Parse(d.cfg.Hub.ID)
	if err != nil {
		return fmt.Errorf("parsing hub id: %w", err)
	}

	uplink := lighthouse.New(lighthouse.Options{
		URL:            d.cfg.Uplink.URL,
		Credentials:    session.Credentials{ID: hubID, Password: d.cfg.Uplink.Password},
		Session:        sessionConfig(d.cfg.WebSocket),
		InitialBackoff: seconds(d.cfg.Uplink.InitialBackoff),
		MaxBackoff:     seconds(d.cfg.Uplink.MaxBackoff),
		Provider:       late,
		Logger:         d.log,
	})
	d.controllers = append(d.controllers, uplink)
	d.addRunner(lighthouse.Name, uplink.Run)
	d.checks["uplink"] = checkFunc(func(ctx context.Context) error {
		linked, err := uplink.Linked(ctx)
		if err != nil {
			return err
		}
		if !linked {
			return errUplinkDown
		}
		return nil
	})
	d.log.Info("uplink configured", "url", d.cfg.Uplink.URL, "hub_id", hubID.String())
	return nil
}
