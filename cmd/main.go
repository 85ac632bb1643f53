package main

import (
	"image/color"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/chen-vision/facewatch/pkg/api"
	"github.com/chen-vision/facewatch/pkg/video"
	"github.com/spf13/viper"
)

// cascadeConfig mirrors one entry of the "cascades" list in config.yaml.
type cascadeConfig struct {
	Name  string  `mapstructure:"name"`
	File  string  `mapstructure:"file"`
	Color []uint8 `mapstructure:"color"`
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if len(os.Args) != 5 {
		log.Fatalf("Usage: %s DEVICE WIDTH HEIGHT DURATION_SECONDS", os.Args[0])
	}
	device, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("Error: DEVICE must be an integer, got '%v'", err)
	}
	width, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatalf("Error: WIDTH must be an integer, got '%v'", err)
	}
	height, err := strconv.Atoi(os.Args[3])
	if err != nil {
		log.Fatalf("Error: HEIGHT must be an integer, got '%v'", err)
	}
	seconds, err := strconv.ParseFloat(os.Args[4], 64)
	if err != nil {
		log.Fatalf("Error: DURATION_SECONDS must be a number, got '%v'", err)
	}

	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetDefault("pipeline.max_tasks", 1)
	viper.SetDefault("pipeline.viewer_max_tasks", 2)
	viper.SetDefault("pipeline.min_age_seconds", 2.0)
	viper.SetDefault("rate.windows_seconds", []string{"1", "5", "10"})
	viper.SetDefault("viewer.enabled", true)
	viper.SetDefault("viewer.motion_enabled", false)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error: Could not read config file, got '%v'", err)
	}

	var cascades []cascadeConfig
	if err := viper.UnmarshalKey("cascades", &cascades); err != nil {
		log.Fatalf("Error: Could not parse 'cascades' config, got '%v'", err)
	}
	if len(cascades) == 0 {
		log.Fatalf("Error: Missing critical configuration 'cascades'")
	}

	variants := make([]video.Variant, 0, len(cascades))
	for _, c := range cascades {
		if len(c.Color) != 3 {
			log.Fatalf("Error: cascade '%s' needs a [r, g, b] color", c.Name)
		}
		variants = append(variants, video.Variant{
			Name:    c.Name,
			Cascade: c.File,
			Color:   color.RGBA{R: c.Color[0], G: c.Color[1], B: c.Color[2]},
		})
	}

	var windows []time.Duration
	for _, s := range viper.GetStringSlice("rate.windows_seconds") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			log.Fatalf("Error: bad rate window '%s', got '%v'", s, err)
		}
		windows = append(windows, time.Duration(f*float64(time.Second)))
	}

	cfg := video.Config{
		Device:         device,
		Width:          width,
		Height:         height,
		Duration:       time.Duration(seconds * float64(time.Second)),
		Variants:       variants,
		MaxTasks:       viper.GetInt("pipeline.max_tasks"),
		ViewerMaxTasks: viper.GetInt("pipeline.viewer_max_tasks"),
		MinAge:         time.Duration(viper.GetFloat64("pipeline.min_age_seconds") * float64(time.Second)),
		RateWindows:    windows,
		ViewerEnabled:  viper.GetBool("viewer.enabled"),
		MotionEnabled:  viper.GetBool("viewer.motion_enabled"),
	}

	runner, err := video.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Error: Got '%v'", err)
	}

	if port := viper.GetString("http.port"); port != "" {
		go func() {
			if err := api.SetRouter(runner).Run(":" + port); err != nil {
				log.Printf("api: server stopped, got '%v'", err)
			}
		}()
	}

	if err := runner.Run(); err != nil {
		log.Fatalf("Error: Got '%v'", err)
	}
}
