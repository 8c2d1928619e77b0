package assets

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spaghettifunk/pensieve/engine/assets/loaders"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// Editors and exporters usually emit several writes per save.
const reloadDebounce = 150 * time.Millisecond

type Asset struct {
	ID       uuid.UUID
	Path     string
	Type     AssetType
	Data     any
	LoadedAt time.Time
}

/**
 * @brief Loads scenes and shaders by path and, once Watch is called, reloads
 * them when their files change. Reloaded assets keep their ID and are
 * delivered on Reloads; failed reloads go to Errors and the previous data
 * stays in effect.
 */
type AssetManager struct {
	Reloads chan *Asset
	Errors  chan error

	assets  map[string]*Asset
	loaders map[AssetType]Loader
	mutex   sync.RWMutex

	fsnotify *fsnotify.Watcher
	dirs     map[string]bool
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewAssetManager() *AssetManager {
	am := &AssetManager{
		Reloads: make(chan *Asset, 8),
		Errors:  make(chan error, 1),
		assets:  make(map[string]*Asset),
		loaders: make(map[AssetType]Loader),
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}
	am.registerLoader(AssetTypeScene, &loaders.SceneLoader{})
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	return am
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Load reads the asset at path with the loader for assetType, or the type
// guessed from the extension when assetType is AssetTypeNone. Loading a path
// again refreshes its data and keeps its ID.
func (am *AssetManager) Load(path string, assetType AssetType) (*Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if assetType == AssetTypeNone {
		assetType = AssetTypeFromPath(abs)
	}
	loader, ok := am.loaders[assetType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for %s (type %s)", path, assetType)
	}

	data, err := loader.Load(abs)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	asset, exists := am.assets[abs]
	if !exists {
		asset = &Asset{ID: uuid.New(), Path: abs, Type: assetType}
		am.assets[abs] = asset
	}
	asset.Data = data
	asset.LoadedAt = time.Now()
	core.LogDebug("%s asset %s loaded from %s", assetType, asset.ID, abs)

	if am.fsnotify != nil {
		if err := am.watchDir(filepath.Dir(abs)); err != nil {
			core.LogWarn("asset %s will not hot reload: %s", abs, err)
		}
	}
	cp := *asset
	return &cp, nil
}

// LoadScene loads and validates a scene file.
func (am *AssetManager) LoadScene(path string) (*scene.SceneData, uuid.UUID, error) {
	asset, err := am.Load(path, AssetTypeScene)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return asset.Data.(*scene.SceneData), asset.ID, nil
}

// LoadShader loads a SPIR-V module.
func (am *AssetManager) LoadShader(path string) ([]uint32, error) {
	asset, err := am.Load(path, AssetTypeShader)
	if err != nil {
		return nil, err
	}
	return asset.Data.([]uint32), nil
}

func (am *AssetManager) Get(id uuid.UUID) (*Asset, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	for _, a := range am.assets {
		if a.ID == id {
			cp := *a
			return &cp, true
		}
	}
	return nil, false
}

// Watch starts reloading loaded assets, and assets loaded later, when their
// files change. Parent directories are watched so atomic saves are seen.
func (am *AssetManager) Watch() error {
	if am.fsnotify != nil {
		return nil
	}
	select {
	case <-am.done:
		return errors.New("asset manager already closed")
	default:
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create asset watcher: %w", err)
	}

	am.mutex.Lock()
	am.fsnotify = fsWatch
	for path := range am.assets {
		if err := am.watchDir(filepath.Dir(path)); err != nil {
			am.mutex.Unlock()
			fsWatch.Close()
			am.fsnotify = nil
			return err
		}
	}
	am.mutex.Unlock()

	am.wg.Add(1)
	go am.start()
	return nil
}

// watchDir must be called with the mutex held.
func (am *AssetManager) watchDir(dir string) error {
	if am.dirs[dir] {
		return nil
	}
	if err := am.fsnotify.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	am.dirs[dir] = true
	return nil
}

func (am *AssetManager) tracked(path string) bool {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	_, ok := am.assets[path]
	return ok
}

func (am *AssetManager) start() {
	defer am.wg.Done()

	dirty := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			path := filepath.Clean(e.Name)
			if !am.tracked(path) {
				continue
			}
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
				continue
			}
			dirty[path] = true
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			for path := range dirty {
				am.reload(path)
			}
			clear(dirty)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)
			am.sendError(err)

		case <-am.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (am *AssetManager) reload(path string) {
	am.mutex.RLock()
	assetType := am.assets[path].Type
	am.mutex.RUnlock()

	asset, err := am.Load(path, assetType)
	if err != nil {
		core.LogWarn("reload of %s failed: %s", path, err)
		am.sendError(err)
		return
	}
	core.LogInfo("%s %s reloaded", assetType, path)
	select {
	case am.Reloads <- asset:
	default:
		core.LogWarn("reload of %s dropped, consumer is behind", path)
	}
}

// sendError keeps only the newest error when the consumer lags behind.
func (am *AssetManager) sendError(err error) {
	select {
	case <-am.Errors:
	default:
	}
	am.Errors <- err
}

func (am *AssetManager) Close() error {
	var err error
	am.once.Do(func() {
		close(am.done)
		if am.fsnotify != nil {
			err = am.fsnotify.Close()
		}
		am.wg.Wait()
	})
	return err
}
